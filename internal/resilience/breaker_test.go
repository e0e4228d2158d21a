package resilience

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

var errInstall = errors.New("download failed")

func fail(context.Context) error    { return errInstall }
func succeed(context.Context) error { return nil }

func newTestBreaker(maxFailures int) (*Breaker, *time.Time) {
	now := time.Unix(1000, 0)
	b := NewBreaker(maxFailures, time.Minute)
	b.now = func() time.Time { return now }
	return b, &now
}

func TestBreakerTransitions(t *testing.T) {
	ctx := context.Background()
	b, now := newTestBreaker(2)

	steps := []struct {
		name      string
		advance   time.Duration
		fn        func(context.Context) error
		wantErr   error
		wantState State
	}{
		{"first failure stays closed", 0, fail, errInstall, StateClosed},
		{"second failure opens", 0, fail, errInstall, StateOpen},
		{"rejected while open", 30 * time.Second, succeed, ErrCircuitOpen, StateOpen},
		{"trial failure reopens", 31 * time.Second, fail, errInstall, StateOpen},
		{"rejected again", time.Second, succeed, ErrCircuitOpen, StateOpen},
		{"trial success closes", time.Minute, succeed, nil, StateClosed},
		{"closed counts from zero", 0, fail, errInstall, StateClosed},
	}
	for _, s := range steps {
		*now = now.Add(s.advance)
		err := b.Execute(ctx, s.fn)
		if !errors.Is(err, s.wantErr) || (s.wantErr == nil && err != nil) {
			t.Fatalf("%s: err = %v, want %v", s.name, err, s.wantErr)
		}
		if got := b.State(); got != s.wantState {
			t.Fatalf("%s: state = %s, want %s", s.name, got, s.wantState)
		}
	}
	if b.Failures() != 1 {
		t.Errorf("Failures = %d, want 1", b.Failures())
	}
}

func TestBreakerRejectionCarriesWait(t *testing.T) {
	b, _ := newTestBreaker(1)
	_ = b.Execute(context.Background(), fail)

	err := b.Execute(context.Background(), succeed)
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("err = %v", err)
	}
	if got := err.Error(); got != "circuit breaker is open (retry in 1m0s)" {
		t.Errorf("message = %q", got)
	}
}

func TestBreakerIgnoresCancellation(t *testing.T) {
	b, _ := newTestBreaker(1)
	err := b.Execute(context.Background(), func(context.Context) error {
		return context.Canceled
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v", err)
	}
	if b.State() != StateClosed || b.Failures() != 0 {
		t.Errorf("state %s failures %d after cancellation", b.State(), b.Failures())
	}

	errSkip := errors.New("skip")
	b.Ignore(func(err error) bool { return errors.Is(err, errSkip) })
	_ = b.Execute(context.Background(), func(context.Context) error { return errSkip })
	if b.State() != StateClosed {
		t.Errorf("custom ignore: state = %s", b.State())
	}
}

func TestBreakerSingleTrial(t *testing.T) {
	b, now := newTestBreaker(1)
	_ = b.Execute(context.Background(), fail)
	*now = now.Add(2 * time.Minute)

	release := make(chan struct{})
	started := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = b.Execute(context.Background(), func(context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	if err := b.Execute(context.Background(), succeed); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("concurrent call during trial: err = %v", err)
	}
	close(release)
	wg.Wait()

	if b.State() != StateClosed {
		t.Errorf("state = %s after successful trial", b.State())
	}
}

func TestNewBreakerClampsMaxFailures(t *testing.T) {
	b, _ := newTestBreaker(0)
	_ = b.Execute(context.Background(), fail)
	if b.State() != StateOpen {
		t.Errorf("state = %s, want open after one failure", b.State())
	}
}

func TestStateString(t *testing.T) {
	tests := map[State]string{StateClosed: "closed", StateOpen: "open", StateHalfOpen: "half-open", State(9): "unknown"}
	for s, want := range tests {
		if s.String() != want {
			t.Errorf("%d.String() = %q, want %q", s, s.String(), want)
		}
	}
}
