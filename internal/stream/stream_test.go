package stream

import (
	"testing"

	"tradeflow/models"
)

func batch(id string) []models.MarketEvent {
	return []models.MarketEvent{models.TradeEvent(id, models.TradeBuy, 100, 1, 0)}
}

func TestReleasesInSequenceOrder(t *testing.T) {
	var released []uint64
	s := New("test", models.NewPair("USDT", "BTC"), 0, func(_ []models.MarketEvent, seq uint64) {
		released = append(released, seq)
	}, nil)

	for _, seq := range []uint64{1, 3, 2, 4} {
		s.Add(seq, batch("x"))
	}

	want := []uint64{1, 2, 3, 4}
	if len(released) != len(want) {
		t.Fatalf("released %v want %v", released, want)
	}
	for i := range want {
		if released[i] != want[i] {
			t.Fatalf("released %v want %v", released, want)
		}
	}
}

func TestDropsStaleAndDuplicate(t *testing.T) {
	var released []uint64
	s := New("test", models.NewPair("USDT", "BTC"), 0, func(_ []models.MarketEvent, seq uint64) {
		released = append(released, seq)
	}, nil)

	s.Add(5, batch("a"))
	s.Add(5, batch("dup"))
	s.Add(4, batch("late"))
	s.Add(6, batch("b"))

	want := []uint64{5, 6}
	if len(released) != 2 || released[0] != 5 || released[1] != 6 {
		t.Fatalf("released %v want %v", released, want)
	}
}

func TestFirstBatchAnchorsSequence(t *testing.T) {
	var released []uint64
	s := New("test", models.NewPair("USDT", "BTC"), 0, func(_ []models.MarketEvent, seq uint64) {
		released = append(released, seq)
	}, nil)

	// Exchanges do not start at 1; the first batch sets the baseline.
	s.Add(1000, batch("a"))
	s.Add(1001, batch("b"))
	if len(released) != 2 || released[0] != 1000 {
		t.Fatalf("released %v", released)
	}
}

func TestResetAcceptsLowerSequence(t *testing.T) {
	var released []uint64
	s := New("test", models.NewPair("USDT", "BTC"), 0, func(_ []models.MarketEvent, seq uint64) {
		released = append(released, seq)
	}, nil)

	s.Add(100, batch("a"))
	s.Reset()
	// Post-reconnect snapshot restarts numbering below the old baseline.
	s.Add(1, batch("fresh"))
	if len(released) != 2 || released[1] != 1 {
		t.Fatalf("released %v, want fresh snapshot at seq 1 accepted", released)
	}
}

func TestPendingLimitTriggersResync(t *testing.T) {
	resyncs := 0
	var released []uint64
	s := New("test", models.NewPair("USDT", "BTC"), 3, func(_ []models.MarketEvent, seq uint64) {
		released = append(released, seq)
	}, func() {
		resyncs++
	})

	s.Add(10, batch("anchor"))
	// Sequence 11 never arrives; buffer fills past the limit.
	for _, seq := range []uint64{12, 13, 14, 15} {
		s.Add(seq, batch("gap"))
	}

	if resyncs != 1 {
		t.Fatalf("resyncs=%d want 1", resyncs)
	}
	if s.Pending() != 0 {
		t.Errorf("pending=%d want 0 after resync", s.Pending())
	}
	// Stream is unanchored again; the next snapshot re-anchors.
	s.Add(1, batch("snapshot"))
	if released[len(released)-1] != 1 {
		t.Errorf("released %v, snapshot after resync not accepted", released)
	}
}
