package stream

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Event types published by the vesting service.
const (
	TypeProgramCreated  = "program.created"
	TypeTreasuryFunded  = "treasury.funded"
	TypeEmployeeCreated = "employee.created"
	TypeTokensClaimed   = "tokens.claimed"
)

// Event describes a state change on a vesting program.
type Event struct {
	Type           string    `json:"type"`
	Program        string    `json:"program"`
	Employee       string    `json:"employee,omitempty"`
	Beneficiary    string    `json:"beneficiary,omitempty"`
	Amount         uint64    `json:"amount"`
	TotalWithdrawn uint64    `json:"total_withdrawn,omitempty"`
	TransactionID  string    `json:"transaction_id,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// Filter narrows a subscription. Empty fields match everything.
type Filter struct {
	Program     string
	Beneficiary string
}

func (f Filter) match(evt Event) bool {
	if f.Program != "" && f.Program != evt.Program {
		return false
	}
	if f.Beneficiary != "" && f.Beneficiary != evt.Beneficiary {
		return false
	}
	return true
}

type subscriber struct {
	ch     chan Event
	filter Filter
}

// Stream fan-outs events to all active subscribers (SSE clients).
type Stream struct {
	mu      sync.RWMutex
	subs    map[int]subscriber
	next    int
	buffer  int
	dropped atomic.Uint64
}

// New initialises an empty stream. Each subscriber gets a channel of the given
// buffer size; non-positive values fall back to 16.
func New(buffer int) *Stream {
	if buffer <= 0 {
		buffer = 16
	}
	return &Stream{subs: make(map[int]subscriber), buffer: buffer}
}

// Subscribe registers a subscriber and returns a channel which will receive events.
// The channel is closed when the provided context ends.
func (s *Stream) Subscribe(ctx context.Context, filter Filter) <-chan Event {
	ch := make(chan Event, s.buffer)

	s.mu.Lock()
	id := s.next
	s.next++
	s.subs[id] = subscriber{ch: ch, filter: filter}
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.subs, id)
		close(ch)
		s.mu.Unlock()
	}()

	return ch
}

// Publish fan-outs the event to all matching subscribers.
func (s *Stream) Publish(evt Event) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, sub := range s.subs {
		if !sub.filter.match(evt) {
			continue
		}
		select {
		case sub.ch <- evt:
		default:
			// Slow subscriber.
			s.dropped.Add(1)
		}
	}
}

// Subscribers returns the number of active subscriptions.
func (s *Stream) Subscribers() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subs)
}

// Dropped reports how many deliveries were skipped because a subscriber was full.
func (s *Stream) Dropped() uint64 {
	return s.dropped.Load()
}
