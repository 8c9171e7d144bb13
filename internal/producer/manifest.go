// Package producer drives the execution manifest: it persists the
// step plan emitted by the Director and executes the steps one at a
// time through synthetic conversation turns.
package producer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/mohammad-safakhou/callsheet/internal/store"
)

// Step statuses.
type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepRunning   StepStatus = "running"
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
)

// Terminal reports whether the status needs no further work.
func (s StepStatus) Terminal() bool {
	return s == StepCompleted || s == StepFailed
}

// Step is one unit of work in the manifest. Action names a registered
// tool; Params is passed through as the tool arguments.
type Step struct {
	ID          string          `json:"id"`
	Action      string          `json:"action"`
	Description string          `json:"description"`
	Params      json.RawMessage `json:"params,omitempty"`
	Status      StepStatus      `json:"status"`
	Error       string          `json:"error,omitempty"`
}

// Manifest is the execution plan for one project. Type discriminates
// manifest JSON from ordinary structured output; only "manifest"
// blocks are accepted.
type Manifest struct {
	Type  string `json:"type"`
	Title string `json:"title,omitempty"`
	Steps []Step `json:"steps"`
}

// NextPending returns the index of the first pending step, honoring
// declaration order, or -1.
func (m *Manifest) NextPending() int {
	for i, s := range m.Steps {
		if s.Status == StepPending {
			return i
		}
	}
	return -1
}

// Done reports whether every step reached a terminal status.
func (m *Manifest) Done() bool {
	for _, s := range m.Steps {
		if !s.Status.Terminal() {
			return false
		}
	}
	return len(m.Steps) > 0
}

// stepByID returns a pointer into Steps, or nil.
func (m *Manifest) stepByID(id string) *Step {
	for i := range m.Steps {
		if m.Steps[i].ID == id {
			return &m.Steps[i]
		}
	}
	return nil
}

// ErrManifestActive rejects a second manifest while one is in flight.
var ErrManifestActive = errors.New("a manifest is already active for this project")

// ErrNoManifest signals operations against a project with no plan.
var ErrNoManifest = errors.New("no active manifest")

// ManifestStore persists manifests through the project row, keeping
// the status invariant: manifest present implies production phase.
// Writes go through a load-mutate-save cycle on the whole manifest,
// so mu serializes them; without it a retry landing from the HTTP
// handler mid-Advance would be overwritten by the consumer's save.
type ManifestStore struct {
	DB *store.Store

	mu sync.Mutex
}

// Get loads the active manifest, or (nil, nil) when the project is in
// development.
func (ms *ManifestStore) Get(ctx context.Context, projectID string) (*Manifest, error) {
	p, ok, err := ms.DB.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if !ok || len(p.CurrentManifest) == 0 {
		return nil, nil
	}
	var m Manifest
	if err := json.Unmarshal(p.CurrentManifest, &m); err != nil {
		return nil, fmt.Errorf("stored manifest is corrupt: %w", err)
	}
	return &m, nil
}

// Set installs a new manifest. The first manifest wins: while one is
// active the call fails with ErrManifestActive and the project state
// is untouched. Step statuses are normalized to pending.
func (ms *ManifestStore) Set(ctx context.Context, projectID string, m Manifest) error {
	if len(m.Steps) == 0 {
		return fmt.Errorf("manifest has no steps")
	}
	ms.mu.Lock()
	defer ms.mu.Unlock()
	existing, err := ms.Get(ctx, projectID)
	if err != nil {
		return err
	}
	if existing != nil {
		return ErrManifestActive
	}
	for i := range m.Steps {
		m.Steps[i].Status = StepPending
		m.Steps[i].Error = ""
	}
	return ms.save(ctx, projectID, &m)
}

// Advance transitions one step. Allowed transitions:
// pending -> running (only while no other step is running),
// running -> completed | failed.
func (ms *ManifestStore) Advance(ctx context.Context, projectID, stepID string, to StepStatus, stepErr string) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	m, err := ms.Get(ctx, projectID)
	if err != nil {
		return err
	}
	if m == nil {
		return ErrNoManifest
	}
	step := m.stepByID(stepID)
	if step == nil {
		return fmt.Errorf("unknown step %q", stepID)
	}
	switch to {
	case StepRunning:
		if step.Status != StepPending {
			return fmt.Errorf("step %q is %s, cannot start", stepID, step.Status)
		}
		for _, s := range m.Steps {
			if s.Status == StepRunning {
				return fmt.Errorf("step %q is already running", s.ID)
			}
		}
	case StepCompleted, StepFailed:
		if step.Status != StepRunning {
			return fmt.Errorf("step %q is %s, cannot settle", stepID, step.Status)
		}
	default:
		return fmt.Errorf("invalid target status %q", to)
	}
	step.Status = to
	step.Error = stepErr
	return ms.save(ctx, projectID, m)
}

// RetryStep resets a failed step back to pending.
func (ms *ManifestStore) RetryStep(ctx context.Context, projectID, stepID string) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	m, err := ms.Get(ctx, projectID)
	if err != nil {
		return err
	}
	if m == nil {
		return ErrNoManifest
	}
	step := m.stepByID(stepID)
	if step == nil {
		return fmt.Errorf("unknown step %q", stepID)
	}
	if step.Status != StepFailed {
		return fmt.Errorf("step %q is %s, only failed steps retry", stepID, step.Status)
	}
	step.Status = StepPending
	step.Error = ""
	return ms.save(ctx, projectID, m)
}

// Clear drops the manifest and returns the project to development.
func (ms *ManifestStore) Clear(ctx context.Context, projectID string) error {
	return ms.DB.UpdateProjectManifest(ctx, projectID, nil)
}

func (ms *ManifestStore) save(ctx context.Context, projectID string, m *Manifest) error {
	b, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}
	return ms.DB.UpdateProjectManifest(ctx, projectID, b)
}
