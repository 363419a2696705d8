package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestStrictlySequential(t *testing.T) {
	q := New("test", 8)
	defer q.Close()

	var mu sync.Mutex
	inFlight := 0
	maxInFlight := 0
	var order []int

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = q.Do(context.Background(), func(context.Context) error {
				mu.Lock()
				inFlight++
				if inFlight > maxInFlight {
					maxInFlight = inFlight
				}
				order = append(order, i)
				mu.Unlock()

				time.Sleep(time.Millisecond)

				mu.Lock()
				inFlight--
				mu.Unlock()
				return nil
			})
		}()
	}
	wg.Wait()

	if maxInFlight != 1 {
		t.Errorf("maxInFlight=%d, private calls overlapped on the wire", maxInFlight)
	}
	if len(order) != 5 {
		t.Errorf("ran %d of 5 jobs", len(order))
	}
}

func TestFailureDoesNotPoisonQueue(t *testing.T) {
	q := New("test", 8)
	defer q.Close()

	wantErr := errors.New("nonce rejected")
	if err := q.Do(context.Background(), func(context.Context) error { return wantErr }); !errors.Is(err, wantErr) {
		t.Fatalf("err=%v want %v", err, wantErr)
	}
	if err := q.Do(context.Background(), func(context.Context) error { return nil }); err != nil {
		t.Fatalf("queue poisoned by previous failure: %v", err)
	}
}

func TestPanicIsContained(t *testing.T) {
	q := New("test", 8)
	defer q.Close()

	if err := q.Do(context.Background(), func(context.Context) error { panic("boom") }); err == nil {
		t.Fatal("panicking job must surface an error")
	}
	if err := q.Do(context.Background(), func(context.Context) error { return nil }); err != nil {
		t.Fatalf("queue dead after panic: %v", err)
	}
}

func TestCancelledContextSkipsJob(t *testing.T) {
	q := New("test", 8)
	defer q.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ran := false
	err := q.Do(ctx, func(context.Context) error { ran = true; return nil })
	if err == nil {
		t.Fatal("expected context error")
	}
	if ran {
		t.Error("job ran despite cancelled context")
	}
}

func TestDoAfterClose(t *testing.T) {
	q := New("test", 8)
	q.Close()
	if err := q.Do(context.Background(), func(context.Context) error { return nil }); !errors.Is(err, ErrClosed) {
		t.Fatalf("err=%v want ErrClosed", err)
	}
}
