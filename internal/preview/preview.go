// Package preview keeps the player state pointed at the newest
// completed render for each project.
package preview

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mohammad-safakhou/callsheet/internal/history"
	"github.com/mohammad-safakhou/callsheet/internal/store"
	"github.com/mohammad-safakhou/callsheet/internal/tools"
)

const keyPrefix = "callsheet:preview:"

// State is what the player loads. VideoKey bumps monotonically on
// every new render so clients know to reload the element even when
// the URL is reused.
type State struct {
	URL       string          `json:"url"`
	Spec      json.RawMessage `json:"spec,omitempty"`
	VideoKey  int64           `json:"video_key"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Synchronizer derives preview state from the event log and caches it
// in redis. Without redis it degrades to process-local memory.
type Synchronizer struct {
	rdb *redis.Client

	mu  sync.Mutex
	mem map[string]State
}

// New builds a synchronizer. rdb may be nil.
func New(rdb *redis.Client) *Synchronizer {
	return &Synchronizer{rdb: rdb, mem: map[string]State{}}
}

// Sync scans events newest-first for a successful render result and
// publishes it. Re-observing the same render URL is a no-op, so the
// call is idempotent; a new URL bumps VideoKey.
func (s *Synchronizer) Sync(ctx context.Context, projectID string, events []store.Event) (State, bool, error) {
	url, spec, found := latestRender(events)
	if !found {
		return State{}, false, nil
	}
	cur, ok, err := s.Get(ctx, projectID)
	if err != nil {
		return State{}, false, err
	}
	if ok && cur.URL == url {
		return cur, true, nil
	}
	next := State{
		URL:       url,
		Spec:      spec,
		VideoKey:  cur.VideoKey + 1,
		UpdatedAt: time.Now().UTC(),
	}
	if err := s.put(ctx, projectID, next); err != nil {
		return State{}, false, err
	}
	return next, true, nil
}

// Get returns the cached state for a project.
func (s *Synchronizer) Get(ctx context.Context, projectID string) (State, bool, error) {
	if s.rdb == nil {
		s.mu.Lock()
		defer s.mu.Unlock()
		st, ok := s.mem[projectID]
		return st, ok, nil
	}
	raw, err := s.rdb.Get(ctx, keyPrefix+projectID).Bytes()
	if err == redis.Nil {
		return State{}, false, nil
	}
	if err != nil {
		return State{}, false, fmt.Errorf("preview read: %w", err)
	}
	var st State
	if err := json.Unmarshal(raw, &st); err != nil {
		return State{}, false, fmt.Errorf("preview state is corrupt: %w", err)
	}
	return st, true, nil
}

// Clear drops cached state, used when a project's history is reset.
func (s *Synchronizer) Clear(ctx context.Context, projectID string) error {
	if s.rdb == nil {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.mem, projectID)
		return nil
	}
	return s.rdb.Del(ctx, keyPrefix+projectID).Err()
}

func (s *Synchronizer) put(ctx context.Context, projectID string, st State) error {
	if s.rdb == nil {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.mem[projectID] = st
		return nil
	}
	b, err := json.Marshal(st)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, keyPrefix+projectID, b, 0).Err()
}

// latestRender finds the newest successful render result in the log.
func latestRender(events []store.Event) (url string, spec json.RawMessage, found bool) {
	for i := len(events) - 1; i >= 0; i-- {
		for _, res := range history.ToolResults(events[i].Metadata) {
			if res.Name != history.RenderToolName {
				continue
			}
			var r tools.Result
			if err := json.Unmarshal(res.Result, &r); err != nil || !r.Success {
				continue
			}
			u, _ := r.Data["url"].(string)
			if u == "" {
				continue
			}
			var sp json.RawMessage
			if s, ok := r.Data["spec"]; ok {
				if b, err := json.Marshal(s); err == nil {
					sp = b
				}
			}
			return u, sp, true
		}
	}
	return "", nil, false
}
