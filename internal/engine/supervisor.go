package engine

import (
	"context"
	"sort"
	"sync"

	"github.com/kingrea/tollgate/internal/report"
)

// Supervisor runs pipelines in the background and keeps at most one run per
// pipeline and ref: starting a run cancels the in-flight run it supersedes.
type Supervisor struct {
	engine *Engine

	mu     sync.Mutex
	active map[string]*Handle
	wg     sync.WaitGroup
}

// NewSupervisor wraps an engine.
func NewSupervisor(engine *Engine) *Supervisor {
	return &Supervisor{engine: engine, active: make(map[string]*Handle)}
}

// Handle tracks one background run.
type Handle struct {
	Key   string
	RunID string

	cancel context.CancelCauseFunc
	done   chan struct{}
	report report.Report
	err    error
}

// Done is closed when the run has finished or aborted.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Wait blocks until the run ends.
func (h *Handle) Wait() (report.Report, error) {
	<-h.done
	return h.report, h.err
}

// Cancel aborts the run with cause.
func (h *Handle) Cancel(cause error) {
	h.cancel(cause)
}

// SupersedeKey identifies the runs a request replaces.
func SupersedeKey(req Request) string {
	event := req.Event
	event.Normalize()
	return req.Definition.ID + "@" + event.SupersedeKey()
}

// Start launches req and cancels the run it supersedes, if any.
func (s *Supervisor) Start(ctx context.Context, req Request) *Handle {
	if req.RunID == "" {
		req.RunID = s.engine.newID()
	}
	runCtx, cancel := context.WithCancelCause(ctx)
	h := &Handle{
		Key:    SupersedeKey(req),
		RunID:  req.RunID,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	s.mu.Lock()
	if prev, ok := s.active[h.Key]; ok {
		s.engine.logger.Info("superseding run", "run", prev.RunID, "by", h.RunID, "key", h.Key)
		prev.cancel(ErrSuperseded)
	}
	s.active[h.Key] = h
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		defer close(h.done)
		h.report, h.err = s.engine.Run(runCtx, req)
		cancel(nil)
		s.mu.Lock()
		if s.active[h.Key] == h {
			delete(s.active, h.Key)
		}
		s.mu.Unlock()
	}()
	return h
}

// Active lists the keys of in-flight runs.
func (s *Supervisor) Active() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.active))
	for key := range s.active {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Wait blocks until every started run has ended.
func (s *Supervisor) Wait() {
	s.wg.Wait()
}

// Shutdown cancels every in-flight run with cause and waits for them.
func (s *Supervisor) Shutdown(cause error) {
	s.mu.Lock()
	for _, h := range s.active {
		h.cancel(cause)
	}
	s.mu.Unlock()
	s.wg.Wait()
}
