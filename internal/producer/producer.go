package producer

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/mohammad-safakhou/callsheet/internal/agent"
	"github.com/mohammad-safakhou/callsheet/internal/engine"
	"github.com/mohammad-safakhou/callsheet/internal/history"
	"github.com/mohammad-safakhou/callsheet/internal/llm"
	"github.com/mohammad-safakhou/callsheet/internal/store"
	"github.com/mohammad-safakhou/callsheet/internal/tools"
)

var producerTracer trace.Tracer = otel.Tracer("callsheet/internal/producer")

var (
	stepsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "callsheet_producer_steps_total",
		Help: "Manifest steps settled, by terminal status.",
	}, []string{"status"})
	turnsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "callsheet_producer_turns_total",
		Help: "Synthetic production turns dispatched.",
	})
)

func init() {
	prometheus.MustRegister(stepsTotal, turnsTotal)
}

// TurnRunner is the engine surface the producer dispatches through.
type TurnRunner interface {
	RunTurn(ctx context.Context, req engine.TurnRequest) (engine.TurnRecord, error)
}

// Producer executes manifest steps one at a time. A single consumer
// goroutine drains the kick channel, so at most one step is in flight
// across the process; the persisted running status guards against a
// second dispatcher.
type Producer struct {
	Manifests   *ManifestStore
	Engine      TurnRunner
	Registry    *agent.Registry
	Store       *store.Store
	Logger      *log.Logger
	StepTimeout time.Duration
	// Strict requires the step's tool result to report success before
	// the step is marked completed. Without it any settled turn counts.
	Strict bool

	kicks chan string

	mu      sync.Mutex
	current map[string]string // projectID -> running step ID
}

// New wires a producer; call Run on a goroutine to start consuming.
func New(ms *ManifestStore, eng TurnRunner, reg *agent.Registry, db *store.Store, logger *log.Logger, stepTimeout time.Duration, strict bool) *Producer {
	return &Producer{
		Manifests:   ms,
		Engine:      eng,
		Registry:    reg,
		Store:       db,
		Logger:      logger,
		StepTimeout: stepTimeout,
		Strict:      strict,
		kicks:       make(chan string, 64),
		current:     map[string]string{},
	}
}

// Notify wakes the consumer for a project. Safe from any goroutine;
// never blocks. A dropped kick is harmless while a drive pass for the
// same project is in progress, since each pass drains every pending
// step.
func (p *Producer) Notify(projectID string) {
	select {
	case p.kicks <- projectID:
	default:
		p.Logger.Printf("kick queue full, dropping wake for %s", projectID)
	}
}

// Run is the consumer loop. It returns when ctx is cancelled.
func (p *Producer) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case projectID := <-p.kicks:
			p.drive(ctx, projectID)
		}
	}
}

// Status is the snapshot served over the API.
type Status struct {
	Manifest    *Manifest `json:"manifest"`
	Busy        bool      `json:"busy"`
	CurrentStep string    `json:"current_step,omitempty"`
}

// Status reports the manifest and in-flight state for a project.
func (p *Producer) Status(ctx context.Context, projectID string) (Status, error) {
	m, err := p.Manifests.Get(ctx, projectID)
	if err != nil {
		return Status{}, err
	}
	p.mu.Lock()
	stepID, busy := p.current[projectID]
	p.mu.Unlock()
	return Status{Manifest: m, Busy: busy, CurrentStep: stepID}, nil
}

// drive executes pending steps for one project until none remain.
func (p *Producer) drive(ctx context.Context, projectID string) {
	ctx, span := producerTracer.Start(ctx, "producer.drive",
		trace.WithAttributes(attribute.String("project.id", projectID)))
	defer span.End()

	progressed := false
	for {
		m, err := p.Manifests.Get(ctx, projectID)
		if err != nil {
			span.RecordError(err)
			p.Logger.Printf("load manifest for %s: %v", projectID, err)
			return
		}
		if m == nil {
			return
		}

		p.failStaleRunning(ctx, projectID, m)

		idx := m.NextPending()
		if idx < 0 {
			if progressed && m.Done() {
				p.logProducer(ctx, projectID, store.EventLog, "Production complete. All steps finished.")
			}
			return
		}

		if err := p.executeStep(ctx, projectID, m.Steps[idx]); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return
		}
		progressed = true
	}
}

// failStaleRunning settles a step left running by a crashed process.
// The consumer goroutine never observes its own dispatch here because
// dispatch is synchronous within drive.
func (p *Producer) failStaleRunning(ctx context.Context, projectID string, m *Manifest) {
	for i := range m.Steps {
		s := &m.Steps[i]
		if s.Status != StepRunning {
			continue
		}
		p.Logger.Printf("step %s found running with no dispatcher, failing it", s.ID)
		if err := p.Manifests.Advance(ctx, projectID, s.ID, StepFailed, "interrupted: executor restarted mid-step"); err != nil {
			p.Logger.Printf("could not fail stale step %s: %v", s.ID, err)
			continue
		}
		s.Status = StepFailed
		s.Error = "interrupted: executor restarted mid-step"
	}
}

// executeStep claims one step, dispatches the synthetic turn, and
// settles the step from the outcome. The running mark is persisted
// before dispatch so the step can never be picked up twice.
func (p *Producer) executeStep(ctx context.Context, projectID string, step Step) error {
	ctx, span := producerTracer.Start(ctx, "producer.execute_step",
		trace.WithAttributes(
			attribute.String("step.id", step.ID),
			attribute.String("step.action", step.Action),
		))
	defer span.End()

	if err := p.Manifests.Advance(ctx, projectID, step.ID, StepRunning, ""); err != nil {
		return fmt.Errorf("claim step %s: %w", step.ID, err)
	}
	p.mu.Lock()
	p.current[projectID] = step.ID
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		delete(p.current, projectID)
		p.mu.Unlock()
	}()

	p.logProducer(ctx, projectID, store.EventLog, "Initiating Task: "+step.Description)

	record, err := p.dispatch(ctx, projectID, step)
	status, stepErr := p.settle(record, err, step)

	if aerr := p.Manifests.Advance(ctx, projectID, step.ID, status, stepErr); aerr != nil {
		return fmt.Errorf("settle step %s: %w", step.ID, aerr)
	}
	stepsTotal.WithLabelValues(string(status)).Inc()

	if status == StepFailed {
		span.SetStatus(codes.Error, stepErr)
		p.logProducer(ctx, projectID, store.EventError, fmt.Sprintf("Step %s failed: %s", step.ID, stepErr))
	} else {
		span.SetStatus(codes.Ok, "completed")
		p.logProducer(ctx, projectID, store.EventLog, fmt.Sprintf("Step %s completed: %s", step.ID, step.Description))
	}
	return nil
}

// dispatch runs the synthetic production turn through the Director
// under the per-step timeout.
func (p *Producer) dispatch(ctx context.Context, projectID string, step Step) (engine.TurnRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, p.StepTimeout)
	defer cancel()

	events, err := p.Store.ListEvents(ctx, projectID)
	if err != nil {
		return engine.TurnRecord{}, fmt.Errorf("load history: %w", err)
	}
	msgs := history.ForModel(events)
	msgs = append(msgs, llm.TextMessage(llm.RoleUser, syntheticPrompt(step)))

	decision := p.Registry.Route(agent.ProducerMarker, true)
	turnsTotal.Inc()
	return p.Engine.RunTurn(ctx, engine.TurnRequest{
		ProjectID: projectID,
		Role:      decision.Role,
		Persona:   decision.Persona,
		History:   msgs,
	})
}

// settle decides the step's terminal status from the turn outcome.
func (p *Producer) settle(record engine.TurnRecord, err error, step Step) (StepStatus, string) {
	if err != nil {
		return StepFailed, err.Error()
	}
	var result *tools.Result
	for i := range record.ToolResults {
		if record.ToolResults[i].Name == step.Action {
			var r tools.Result
			if jerr := json.Unmarshal(record.ToolResults[i].Result, &r); jerr == nil {
				result = &r
			}
			break
		}
	}
	if result == nil {
		if !p.Strict {
			return StepCompleted, ""
		}
		if len(record.ToolResults) == 0 {
			return StepFailed, "the director did not invoke the requested tool"
		}
		return StepFailed, fmt.Sprintf("no result from tool %q", step.Action)
	}
	if p.Strict && !result.Success {
		msg := result.Error
		if msg == "" {
			msg = "tool reported failure"
		}
		return StepFailed, msg
	}
	return StepCompleted, ""
}

func syntheticPrompt(step Step) string {
	params := "{}"
	if len(step.Params) > 0 {
		params = string(step.Params)
	}
	return fmt.Sprintf("%s Execute step %s: call the %q tool for %q with params: %s",
		agent.ProducerMarker, step.ID, step.Action, step.Description, params)
}

// logProducer appends a PRODUCER event; failures are logged and
// swallowed so the execution loop keeps moving.
func (p *Producer) logProducer(ctx context.Context, projectID, eventType, content string) {
	if _, err := p.Store.LogEvent(ctx, projectID, store.Event{
		Source:  store.SourceProducer,
		Type:    eventType,
		Content: content,
	}); err != nil {
		p.Logger.Printf("event write failed: %v", err)
	}
}
