package retry

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestNop_CallsOnce(t *testing.T) {
	var calls int32
	r := Nop{}
	err := r.Do(context.Background(), func(ctx context.Context) error {
		atomic.AddInt32(&calls, 1)
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if calls != 1 {
		t.Fatalf("calls=%d want=1", calls)
	}
}

func TestBackoff_SucceedsFirstTry(t *testing.T) {
	var calls int32
	r := Backoff{Attempts: 5, BaseDelay: time.Nanosecond, MaxDelay: time.Nanosecond}

	err := r.Do(context.Background(), func(ctx context.Context) error {
		atomic.AddInt32(&calls, 1)
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if calls != 1 {
		t.Fatalf("calls=%d want=1", calls)
	}
}

func TestBackoff_RetriesUntilSuccess(t *testing.T) {
	var calls int32
	wantCalls := int32(3)

	r := Backoff{Attempts: 10, BaseDelay: time.Nanosecond, MaxDelay: time.Nanosecond}

	err := r.Do(context.Background(), func(ctx context.Context) error {
		c := atomic.AddInt32(&calls, 1)
		if c < wantCalls {
			return errors.New("fail")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if calls != wantCalls {
		t.Fatalf("calls=%d want=%d", calls, wantCalls)
	}
}

func TestBackoff_ReturnsLastErrorUnchanged(t *testing.T) {
	var calls int32
	r := Backoff{Attempts: 4, BaseDelay: time.Nanosecond, MaxDelay: time.Nanosecond}

	sentinel := errors.New("boom")
	err := r.Do(context.Background(), func(ctx context.Context) error {
		atomic.AddInt32(&calls, 1)
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected sentinel error, got %v", err)
	}
	if calls != 4 {
		t.Fatalf("calls=%d want=4", calls)
	}
}

func TestBackoff_RespectsContextCancel(t *testing.T) {
	var calls int32
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := Backoff{Attempts: 10, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}

	err := r.Do(ctx, func(ctx context.Context) error {
		atomic.AddInt32(&calls, 1)
		return errors.New("fail")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if calls != 0 {
		t.Fatalf("calls=%d want=0", calls)
	}
}

func TestBackoff_DelayDoubles(t *testing.T) {
	var attempts []time.Time
	r := Backoff{Attempts: 3, BaseDelay: 10 * time.Millisecond, MaxDelay: time.Second, Multiplier: 2}

	_ = r.Do(context.Background(), func(ctx context.Context) error {
		attempts = append(attempts, time.Now())
		return errors.New("fail")
	})

	if len(attempts) != 3 {
		t.Fatalf("attempts=%d want=3", len(attempts))
	}
	first := attempts[1].Sub(attempts[0])
	second := attempts[2].Sub(attempts[1])
	if first < 10*time.Millisecond {
		t.Fatalf("first delay %v, want >= 10ms", first)
	}
	if second < 20*time.Millisecond {
		t.Fatalf("second delay %v, want >= 20ms", second)
	}
}

func TestBackoff_ConcurrentCallsAreIndependent(t *testing.T) {
	r := Backoff{Attempts: 3, BaseDelay: time.Nanosecond, MaxDelay: time.Nanosecond}

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var calls int32
			err := r.Do(context.Background(), func(ctx context.Context) error {
				if atomic.AddInt32(&calls, 1) < 2 {
					return errors.New("fail")
				}
				return nil
			})
			if err != nil {
				t.Errorf("unexpected err: %v", err)
			}
			if calls != 2 {
				t.Errorf("calls=%d want=2", calls)
			}
		}()
	}
	wg.Wait()
}

func BenchmarkBackoff_SuccessFirstTry(b *testing.B) {
	r := Backoff{Attempts: 5, BaseDelay: time.Nanosecond, MaxDelay: time.Nanosecond}
	ctx := context.Background()

	b.ReportAllocs()
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		_ = r.Do(ctx, func(ctx context.Context) error { return nil })
	}
}
