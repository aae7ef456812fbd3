package memory

import (
	"sync"

	"podium/pkg/domain"
)

// subscription pumps one account's atoms to a consumer. Writers enqueue under
// the queue mutex; a dedicated goroutine drains to the delivery channel, so
// delivery order matches append order without writers ever blocking.
type subscription struct {
	atoms  chan domain.Envelope
	synced chan bool
	done   chan struct{}

	mu        sync.Mutex
	cond      *sync.Cond
	queue     []domain.Envelope
	closed    bool
	closeOnce sync.Once
}

func newSubscription() *subscription {
	s := &subscription{
		atoms:  make(chan domain.Envelope),
		synced: make(chan bool, 1),
		done:   make(chan struct{}),
	}
	s.cond = sync.NewCond(&s.mu)
	return s
}

func (s *subscription) Atoms() <-chan domain.Envelope { return s.atoms }

func (s *subscription) Synced() <-chan bool { return s.synced }

// Cancel stops delivery. Safe to call more than once.
func (s *subscription) Cancel() { s.close() }

func (s *subscription) close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		close(s.done)
		s.cond.Broadcast()
	})
}

func (s *subscription) push(env domain.Envelope) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.queue = append(s.queue, env)
	s.cond.Signal()
}

// run delivers the backlog, signals synced once, then drains live pushes
// until cancelled.
func (s *subscription) run(backlog []domain.Envelope) {
	defer close(s.atoms)
	for _, env := range backlog {
		if !s.deliver(env) {
			return
		}
	}
	s.synced <- true
	for {
		s.mu.Lock()
		for len(s.queue) == 0 && !s.closed {
			s.cond.Wait()
		}
		if len(s.queue) == 0 {
			s.mu.Unlock()
			return
		}
		env := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()
		if !s.deliver(env) {
			return
		}
	}
}

// deliver blocks until the consumer takes env or the subscription closes.
func (s *subscription) deliver(env domain.Envelope) bool {
	select {
	case s.atoms <- env:
		return true
	case <-s.done:
		return false
	}
}

// balanceSubscription pumps balance snapshots. Snapshots carry the full
// per-symbol state, so intermediate snapshots are coalesced when the consumer
// lags.
type balanceSubscription struct {
	updates chan map[string]float64
	done    chan struct{}

	mu        sync.Mutex
	cond      *sync.Cond
	latest    map[string]float64
	dirty     bool
	closed    bool
	closeOnce sync.Once
}

func newBalanceSubscription() *balanceSubscription {
	s := &balanceSubscription{
		updates: make(chan map[string]float64),
		done:    make(chan struct{}),
	}
	s.cond = sync.NewCond(&s.mu)
	return s
}

func (s *balanceSubscription) Updates() <-chan map[string]float64 { return s.updates }

func (s *balanceSubscription) Cancel() { s.close() }

func (s *balanceSubscription) close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		close(s.done)
		s.cond.Broadcast()
	})
}

func (s *balanceSubscription) push(snapshot map[string]float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.latest = snapshot
	s.dirty = true
	s.cond.Signal()
}

func (s *balanceSubscription) run(initial map[string]float64) {
	defer close(s.updates)
	s.push(initial)
	for {
		s.mu.Lock()
		for !s.dirty && !s.closed {
			s.cond.Wait()
		}
		if !s.dirty {
			s.mu.Unlock()
			return
		}
		snapshot := s.latest
		s.dirty = false
		s.mu.Unlock()
		select {
		case s.updates <- snapshot:
		case <-s.done:
			return
		}
	}
}
