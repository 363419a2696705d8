// Package stream delivers per-market event batches downstream in strictly
// increasing sequence order. Batches arriving ahead of the next expected
// sequence are buffered until the gap fills; when the pending buffer limit is
// exceeded the stream gives up on the gap and asks its owner to resynchronize
// from a fresh snapshot instead of dropping data indefinitely.
package stream

import (
	"sync"

	"tradeflow/logger"
	"tradeflow/models"
)

const DefaultMaxPending = 50

// ReleaseFunc receives each batch in order, exactly once.
type ReleaseFunc func(events []models.MarketEvent, seq uint64)

// ResyncFunc is invoked when the stream cannot recover ordering on its own.
// The owning order book is expected to refetch a snapshot and call Reset.
type ResyncFunc func()

type Stream struct {
	mu         sync.Mutex
	next       uint64 // next expected sequence; 0 means unanchored
	pending    map[uint64][]models.MarketEvent
	maxPending int
	release    ReleaseFunc
	resync     ResyncFunc
	log        *logger.Entry
}

func New(exchange string, pair models.CurrencyPair, maxPending int, release ReleaseFunc, resync ResyncFunc) *Stream {
	if maxPending <= 0 {
		maxPending = DefaultMaxPending
	}
	return &Stream{
		pending:    make(map[uint64][]models.MarketEvent),
		maxPending: maxPending,
		release:    release,
		resync:     resync,
		log: logger.GetLogger().WithComponent("event_stream").WithFields(logger.Fields{
			"exchange": exchange,
			"pair":     pair.String(),
		}),
	}
}

// Add buffers or releases one inbound batch. It never blocks the caller
// beyond the synchronous release callbacks; transports treat it as
// fire-and-forget. Batches at or below the last released sequence are
// dropped silently.
func (s *Stream) Add(seq uint64, events []models.MarketEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.next == 0 {
		// First batch after construction or reset anchors the sequence.
		s.emit(events, seq)
		s.next = seq + 1
		s.drain()
		return
	}

	switch {
	case seq < s.next:
		s.log.WithFields(logger.Fields{"seq": seq, "next": s.next}).Debug("dropping stale batch")
	case seq == s.next:
		s.emit(events, seq)
		s.next = seq + 1
		s.drain()
	default:
		s.pending[seq] = events
		if len(s.pending) > s.maxPending {
			s.log.WithFields(logger.Fields{
				"pending": len(s.pending),
				"next":    s.next,
			}).Warn("pending buffer limit exceeded, requesting resync")
			s.resetLocked()
			if s.resync != nil {
				s.resync()
			}
		}
	}
}

// Reset drops all buffered state and unanchors the sequence so that the next
// batch (typically a post-reconnect snapshot) establishes a new baseline.
func (s *Stream) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resetLocked()
}

// Pending returns the number of buffered out-of-order batches.
func (s *Stream) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

func (s *Stream) resetLocked() {
	s.next = 0
	s.pending = make(map[uint64][]models.MarketEvent)
}

func (s *Stream) drain() {
	for {
		events, ok := s.pending[s.next]
		if !ok {
			return
		}
		delete(s.pending, s.next)
		s.emit(events, s.next)
		s.next++
	}
}

func (s *Stream) emit(events []models.MarketEvent, seq uint64) {
	if s.release != nil {
		s.release(events, seq)
	}
}
