package retry

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/aschepis/backscratcher/assist/llm"
	"github.com/aschepis/backscratcher/assist/logger"
)

// recordingTimer fires immediately and remembers every requested delay.
type recordingTimer struct {
	delays []time.Duration
	c      chan time.Time
}

func (t *recordingTimer) Start(d time.Duration) {
	t.delays = append(t.delays, d)
	t.c = make(chan time.Time, 1)
	t.c <- time.Now()
}

func (t *recordingTimer) Stop() {}

func (t *recordingTimer) C() <-chan time.Time { return t.c }

func newTestExecutor(p Policy) (*Executor, *recordingTimer, *logger.RingSink) {
	timer := &recordingTimer{}
	ring := logger.NewRingSink(0)
	e := New(p,
		WithTimer(func() backoff.Timer { return timer }),
		WithLogger(logger.New(logger.SourceMain, ring)),
	)
	return e, timer, ring
}

func TestDo_SucceedsAfterRateLimits(t *testing.T) {
	p := Policy{MaxAttempts: 3, BaseDelay: 10 * time.Millisecond}
	e, timer, ring := newTestExecutor(p)

	calls := 0
	got, err := Do(context.Background(), e, "cid", func(context.Context) (string, error) {
		calls++
		if calls <= 3 {
			return "", errors.New("429 Too Many Requests")
		}
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("Expected success, got %v", err)
	}
	if got != "ok" {
		t.Errorf("Expected 'ok', got %q", got)
	}
	if calls != 4 {
		t.Errorf("Expected 4 calls, got %d", calls)
	}

	want := []time.Duration{10 * time.Millisecond, 20 * time.Millisecond, 40 * time.Millisecond}
	if len(timer.delays) != len(want) {
		t.Fatalf("Expected delays %v, got %v", want, timer.delays)
	}
	for i := range want {
		if timer.delays[i] != want[i] {
			t.Errorf("Delay %d: expected %v, got %v", i+1, want[i], timer.delays[i])
		}
	}

	entries := ring.Entries()
	if len(entries) != 3 {
		t.Fatalf("Expected 3 retry warnings, got %d", len(entries))
	}
	if entries[0].Level != logger.LevelWarn || entries[0].CorrelationID != "cid" {
		t.Errorf("Unexpected retry log entry: %+v", entries[0])
	}

	// Waits come from the backoff library; they must agree with Policy.Delay.
	for i, d := range timer.delays {
		if want := p.Delay(i + 1); d != want {
			t.Errorf("Retry %d: backoff waited %v, policy says %v", i+1, d, want)
		}
	}
	for _, entry := range entries {
		var found bool
		for _, d := range want {
			if strings.HasSuffix(entry.Message, "after "+d.String()) {
				found = true
			}
		}
		if !found {
			t.Errorf("Expected a policy delay in %q", entry.Message)
		}
	}
}

func TestDo_LogsRetryAfterHint(t *testing.T) {
	e, timer, ring := newTestExecutor(Policy{MaxAttempts: 1, BaseDelay: time.Millisecond})

	h := http.Header{}
	h.Set("Retry-After", "30")
	calls := 0
	_, err := Do(context.Background(), e, "cid", func(context.Context) (int, error) {
		calls++
		if calls == 1 {
			return 0, llm.NewStatusError(llm.ProviderGemini, http.StatusTooManyRequests, "", h)
		}
		return 1, nil
	})
	if err != nil {
		t.Fatalf("Expected success, got %v", err)
	}
	if len(timer.delays) != 1 || timer.delays[0] != time.Millisecond {
		t.Errorf("Expected the policy delay to be used, got %v", timer.delays)
	}

	entries := ring.Entries()
	if len(entries) != 1 {
		t.Fatalf("Expected 1 retry warning, got %d", len(entries))
	}
	data, ok := entries[0].Data.(map[string]any)
	if !ok {
		t.Fatalf("Expected map data, got %T", entries[0].Data)
	}
	if data["retryAfter"] != "30s" {
		t.Errorf("Expected retryAfter 30s, got %v", data["retryAfter"])
	}
	if data["code"] != "rate-limited" {
		t.Errorf("Expected code rate-limited, got %v", data["code"])
	}
}

func TestDo_ExhaustsAndReturnsOriginalError(t *testing.T) {
	e, timer, _ := newTestExecutor(Policy{MaxAttempts: 2, BaseDelay: time.Millisecond})

	orig := errors.New("503 overloaded")
	calls := 0
	_, err := Do(context.Background(), e, "", func(context.Context) (int, error) {
		calls++
		return 0, orig
	})
	if err != orig {
		t.Errorf("Expected the original error, got %v", err)
	}
	if calls != 3 {
		t.Errorf("Expected 3 calls, got %d", calls)
	}
	if len(timer.delays) != 2 {
		t.Errorf("Expected 2 waits, got %v", timer.delays)
	}
}

func TestDo_NonRetryableStopsImmediately(t *testing.T) {
	tests := []string{"quota exceeded", "401 unauthorized", "something unexpected"}
	for _, msg := range tests {
		t.Run(msg, func(t *testing.T) {
			e, timer, _ := newTestExecutor(DefaultPolicy())
			orig := errors.New(msg)
			calls := 0
			_, err := Do(context.Background(), e, "", func(context.Context) (int, error) {
				calls++
				return 0, orig
			})
			if err != orig {
				t.Errorf("Expected the original error, got %v", err)
			}
			if calls != 1 {
				t.Errorf("Expected exactly 1 call, got %d", calls)
			}
			if len(timer.delays) != 0 {
				t.Errorf("Expected no waits, got %v", timer.delays)
			}
		})
	}
}

func TestDo_ZeroAttempts(t *testing.T) {
	e, _, _ := newTestExecutor(Policy{MaxAttempts: 0, BaseDelay: time.Second})
	calls := 0
	_, err := Do(context.Background(), e, "", func(context.Context) (int, error) {
		calls++
		return 0, errors.New("network error")
	})
	if err == nil || calls != 1 {
		t.Errorf("Expected one failing call, got %d calls, err %v", calls, err)
	}
}

func TestDo_ContextCancelledDuringWait(t *testing.T) {
	// Real timer with a long delay: the cancellation must win.
	e := New(Policy{MaxAttempts: 3, BaseDelay: time.Hour})
	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	done := make(chan error, 1)
	go func() {
		_, err := Do(ctx, e, "", func(context.Context) (int, error) {
			calls++
			return 0, errors.New("503")
		})
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Do did not return after cancellation")
	}
	if calls != 1 {
		t.Errorf("Expected 1 call before cancellation, got %d", calls)
	}
}

func TestPolicy_Delay(t *testing.T) {
	p := Policy{BaseDelay: time.Second}
	for n, want := range map[int]time.Duration{0: 0, 1: time.Second, 2: 2 * time.Second, 3: 4 * time.Second, 4: 8 * time.Second} {
		if got := p.Delay(n); got != want {
			t.Errorf("Delay(%d): expected %v, got %v", n, want, got)
		}
	}
}
