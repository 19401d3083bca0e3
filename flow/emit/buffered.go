package emit

import "sync"

// BufferedEmitter stores events in memory, organized by run id, and offers
// query capabilities over the captured history.
//
// Intended for tests, debugging, and UIs polling a run's progress. Events
// accumulate without bound; call Clear between runs in long-lived
// processes.
//
// Example:
//
//	emitter := emit.NewBufferedEmitter()
//	exec, _ := flow.NewExecutor(flow.WithEmitter(emitter))
//	// ... run a workflow ...
//	errs := emitter.HistoryWithFilter(runID, emit.HistoryFilter{Msg: emit.MsgNodeError})
type BufferedEmitter struct {
	mu     sync.RWMutex
	events map[string][]Event // runID -> events in emit order
}

// HistoryFilter selects events from a run's history. All set fields must
// match (AND logic); zero values mean "no filter".
type HistoryFilter struct {
	NodeID  string
	Msg     string
	MinStep *int
	MaxStep *int
}

// NewBufferedEmitter creates an empty BufferedEmitter.
func NewBufferedEmitter() *BufferedEmitter {
	return &BufferedEmitter{events: make(map[string][]Event)}
}

// Emit appends the event to its run's history. Safe for concurrent use.
func (b *BufferedEmitter) Emit(event Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events[event.RunID] = append(b.events[event.RunID], event)
}

// History returns a copy of all events for a run, in emit order. Returns an
// empty slice for unknown runs.
func (b *BufferedEmitter) History(runID string) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	events := b.events[runID]
	result := make([]Event, len(events))
	copy(result, events)
	return result
}

// HistoryWithFilter returns the run's events matching the filter, in emit
// order.
func (b *BufferedEmitter) HistoryWithFilter(runID string, filter HistoryFilter) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	result := []Event{}
	for _, event := range b.events[runID] {
		if matchesFilter(event, filter) {
			result = append(result, event)
		}
	}
	return result
}

func matchesFilter(event Event, filter HistoryFilter) bool {
	if filter.NodeID != "" && event.NodeID != filter.NodeID {
		return false
	}
	if filter.Msg != "" && event.Msg != filter.Msg {
		return false
	}
	if filter.MinStep != nil && event.Step < *filter.MinStep {
		return false
	}
	if filter.MaxStep != nil && event.Step > *filter.MaxStep {
		return false
	}
	return true
}

// Clear drops one run's history, or everything when runID is empty.
func (b *BufferedEmitter) Clear(runID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if runID == "" {
		b.events = make(map[string][]Event)
		return
	}
	delete(b.events, runID)
}
