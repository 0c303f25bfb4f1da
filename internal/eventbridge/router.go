package eventbridge

import (
	"strings"
	"sync"

	"github.com/kingrea/tollgate/internal/pipeline"
)

const (
	defaultSubscriberCapacity = 100
	defaultBacklogLimit       = 50
	defaultDedupeWindow       = 1024
)

// RouterOption customizes Router construction.
type RouterOption func(*Router)

// Router delivers intake events to subscribers keyed by event kind, with
// buffering, deduplication, and bounded channel semantics.
type Router struct {
	mu           sync.RWMutex
	subscribers  map[pipeline.EventKind]map[*subscriber]struct{}
	backlog      map[pipeline.EventKind][]Event
	recentIDs    map[string]struct{}
	recentOrder  []string
	channelSize  int
	backlogLimit int
	dedupeWindow int
	logger       Logger
}

// Subscription represents an active subscription.
type Subscription struct {
	Events <-chan Event
	cancel func()
}

// Close terminates the subscription.
func (s Subscription) Close() {
	if s.cancel != nil {
		s.cancel()
	}
}

// NewRouter constructs a router with sane defaults.
func NewRouter(opts ...RouterOption) *Router {
	r := &Router{
		subscribers:  map[pipeline.EventKind]map[*subscriber]struct{}{},
		backlog:      map[pipeline.EventKind][]Event{},
		recentIDs:    map[string]struct{}{},
		recentOrder:  make([]string, 0, defaultDedupeWindow),
		channelSize:  defaultSubscriberCapacity,
		backlogLimit: defaultBacklogLimit,
		dedupeWindow: defaultDedupeWindow,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// RouterWithLogger injects a logger for drop/diagnostic messages.
func RouterWithLogger(logger Logger) RouterOption {
	return func(r *Router) {
		r.logger = logger
	}
}

// RouterWithSubscriberCapacity overrides the buffered channel size per subscriber.
func RouterWithSubscriberCapacity(cap int) RouterOption {
	return func(r *Router) {
		if cap > 0 {
			r.channelSize = cap
		}
	}
}

// RouterWithBacklogLimit overrides the backlog size for pre-subscription buffering.
func RouterWithBacklogLimit(limit int) RouterOption {
	return func(r *Router) {
		if limit > 0 {
			r.backlogLimit = limit
		}
	}
}

// RouterWithDedupeWindow controls how many recent event IDs are retained.
func RouterWithDedupeWindow(size int) RouterOption {
	return func(r *Router) {
		if size > 0 {
			r.dedupeWindow = size
		}
	}
}

// Subscribe registers for events of the given kinds. With no kinds the
// subscription receives every kind.
func (r *Router) Subscribe(kinds ...pipeline.EventKind) Subscription {
	if len(kinds) == 0 {
		kinds = []pipeline.EventKind{pipeline.EventPush, pipeline.EventPullRequest, pipeline.EventSchedule}
	}
	sub := newSubscriber(r.channelSize, r.logger)
	var backlog []Event
	r.mu.Lock()
	for _, kind := range kinds {
		if r.subscribers[kind] == nil {
			r.subscribers[kind] = map[*subscriber]struct{}{}
		}
		r.subscribers[kind][sub] = struct{}{}
		if existing := r.backlog[kind]; len(existing) > 0 {
			backlog = append(backlog, existing...)
			delete(r.backlog, kind)
		}
	}
	r.mu.Unlock()
	for _, event := range backlog {
		sub.deliver(event)
	}
	return Subscription{
		Events: sub.channel(),
		cancel: func() {
			r.removeSubscriber(kinds, sub)
		},
	}
}

// HandleEvent satisfies the EventProcessor interface.
func (r *Router) HandleEvent(event Event) error {
	r.Route(event)
	return nil
}

// Route delivers the event to subscribers or buffers it when no subscriber exists.
func (r *Router) Route(event Event) {
	if event.EventID != "" && r.isDuplicate(event.EventID) {
		return
	}
	if event.Kind == "" {
		return
	}
	r.mu.RLock()
	subs := r.snapshotSubscribers(event.Kind)
	r.mu.RUnlock()
	if len(subs) == 0 {
		r.bufferEvent(event)
		return
	}
	for _, sub := range subs {
		sub.deliver(event)
	}
}

func (r *Router) snapshotSubscribers(kind pipeline.EventKind) []*subscriber {
	live := r.subscribers[kind]
	if len(live) == 0 {
		return nil
	}
	items := make([]*subscriber, 0, len(live))
	for sub := range live {
		items = append(items, sub)
	}
	return items
}

func (r *Router) removeSubscriber(kinds []pipeline.EventKind, sub *subscriber) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, kind := range kinds {
		if subs := r.subscribers[kind]; subs != nil {
			delete(subs, sub)
			if len(subs) == 0 {
				delete(r.subscribers, kind)
			}
		}
	}
	sub.close()
}

func (r *Router) bufferEvent(event Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	queue := r.backlog[event.Kind]
	if len(queue) >= r.backlogLimit {
		queue = queue[1:]
		if r.logger != nil {
			r.logger.Printf("eventbridge: backlog drop for %s (limit %d)", event.Kind, r.backlogLimit)
		}
	}
	queue = append(queue, event)
	r.backlog[event.Kind] = queue
}

func (r *Router) isDuplicate(eventID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.recentIDs[eventID]; ok {
		return true
	}
	r.recentIDs[eventID] = struct{}{}
	r.recentOrder = append(r.recentOrder, eventID)
	if len(r.recentOrder) > r.dedupeWindow {
		oldest := r.recentOrder[0]
		r.recentOrder = r.recentOrder[1:]
		delete(r.recentIDs, oldest)
	}
	return false
}

type subscriber struct {
	mu     sync.Mutex
	ch     chan Event
	logger Logger
	closed bool
}

func newSubscriber(capacity int, logger Logger) *subscriber {
	if capacity <= 0 {
		capacity = defaultSubscriberCapacity
	}
	return &subscriber{
		ch:     make(chan Event, capacity),
		logger: logger,
	}
}

func (s *subscriber) channel() <-chan Event {
	return s.ch
}

// deliver never blocks: on overflow one of the oldest queued event and the
// incoming one is dropped.
func (s *subscriber) deliver(event Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- event:
		return
	default:
	}
	var oldest Event
	select {
	case oldest = <-s.ch:
	default:
		// the consumer drained the queue in between
		s.ch <- event
		return
	}
	if shouldDropOldest(oldest, event) {
		s.logDrop(oldest, "queue overflow")
		s.ch <- event
		return
	}
	s.ch <- oldest
	s.logDrop(event, "queue overflow:incoming")
}

func (s *subscriber) logDrop(event Event, reason string) {
	if s.logger == nil {
		return
	}
	s.logger.Printf("eventbridge: dropped %s event %s on %s (%s)", event.Kind, event.EventID, event.Ref, reason)
}

func (s *subscriber) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}

// shouldDropOldest prefers dropping an event that the incoming one
// supersedes, then scheduled events, then the oldest.
func shouldDropOldest(oldest, incoming Event) bool {
	if supersedes(incoming, oldest) {
		return true
	}
	oldestScheduled := oldest.Kind == pipeline.EventSchedule
	incomingScheduled := incoming.Kind == pipeline.EventSchedule
	if !oldestScheduled && incomingScheduled {
		return false
	}
	return true
}

func supersedes(newer, older Event) bool {
	if newer.Pipeline != older.Pipeline {
		return false
	}
	return strings.EqualFold(newer.Trigger().SupersedeKey(), older.Trigger().SupersedeKey())
}
