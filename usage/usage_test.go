package usage

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestPricing_Cost(t *testing.T) {
	p := Pricing{"gemini-2.5-flash-lite": {Input: 0.1, Output: 0.4}}

	if got := p.Cost("gemini-2.5-flash-lite", 1_000_000, 500_000); math.Abs(got-0.3) > 1e-9 {
		t.Errorf("Expected cost 0.3, got %f", got)
	}
	if got := p.Cost("unknown", 1000, 1000); got != 0 {
		t.Errorf("Expected unknown model to cost 0, got %f", got)
	}
}

func TestTracker_RecordUsage(t *testing.T) {
	tr := NewTracker(Pricing{"m": {Input: 1, Output: 2}}, 0, zerolog.Nop())
	fixed := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	tr.now = func() time.Time { return fixed }

	tr.RecordUsage("m", "fast", 100, 50, 0, 120*time.Millisecond)

	records := tr.List()
	if len(records) != 1 {
		t.Fatalf("Expected 1 record, got %d", len(records))
	}
	r := records[0]
	if r.ID == "" {
		t.Error("Expected an id to be assigned")
	}
	if !r.Timestamp.Equal(fixed) {
		t.Errorf("Expected timestamp %v, got %v", fixed, r.Timestamp)
	}
	if r.TotalTokens != 150 || r.LatencyMs != 120 || r.Lane != "fast" {
		t.Errorf("Unexpected record %+v", r)
	}
	if math.Abs(r.Cost-0.0002) > 1e-12 {
		t.Errorf("Expected cost 0.0002, got %f", r.Cost)
	}
}

func TestTracker_TotalsAndReset(t *testing.T) {
	tr := NewTracker(nil, 0, zerolog.Nop())
	tr.Add(Record{Model: "a", PromptTokens: 10, OutputTokens: 5, Cost: 1})
	tr.Add(Record{Model: "a", PromptTokens: 1, OutputTokens: 1, TotalTokens: 3, Cost: 0.5})
	tr.Add(Record{Model: "b", PromptTokens: 2, OutputTokens: 2})

	totals := tr.Totals()
	if totals.Requests != 3 || totals.PromptTokens != 13 || totals.OutputTokens != 8 || totals.TotalTokens != 22 || totals.Cost != 1.5 {
		t.Errorf("Unexpected totals %+v", totals)
	}

	byModel := tr.TotalsByModel()
	if byModel["a"].Requests != 2 || byModel["b"].TotalTokens != 4 {
		t.Errorf("Unexpected per-model totals %+v", byModel)
	}

	if n := tr.Reset(); n != 3 {
		t.Errorf("Expected 3 records dropped, got %d", n)
	}
	if len(tr.List()) != 0 || tr.Totals().Requests != 0 {
		t.Error("Expected tracker to be empty after reset")
	}
}

func TestTracker_Limit(t *testing.T) {
	tr := NewTracker(nil, 2, zerolog.Nop())
	tr.Add(Record{ID: "1"})
	tr.Add(Record{ID: "2"})
	tr.Add(Record{ID: "3"})

	records := tr.List()
	if len(records) != 2 || records[0].ID != "2" || records[1].ID != "3" {
		t.Errorf("Expected the two newest records, got %+v", records)
	}
}

func TestTracker_Concurrent(t *testing.T) {
	tr := NewTracker(nil, 0, zerolog.Nop())
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tr.RecordUsage("m", "deep", 1, 1, 2, time.Millisecond)
			_ = tr.Totals()
		}()
	}
	wg.Wait()
	if got := tr.Totals().Requests; got != 20 {
		t.Errorf("Expected 20 records, got %d", got)
	}
}

func TestParseSchedule(t *testing.T) {
	base := time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC)
	tests := []struct {
		schedule string
		want     time.Time
		wantErr  bool
	}{
		{"@monthly", time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC), false},
		{"0 0 * * *", time.Date(2025, 1, 16, 0, 0, 0, 0, time.UTC), false},
		{"30 0 0 * * *", time.Date(2025, 1, 16, 0, 0, 30, 0, time.UTC), false},
		{"24h", base.Add(24 * time.Hour), false},
		{"", time.Time{}, true},
		{"sometimes", time.Time{}, true},
		{"-1h", time.Time{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.schedule, func(t *testing.T) {
			sched, err := ParseSchedule(tt.schedule)
			if tt.wantErr {
				if err == nil {
					t.Error("Expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if got := sched.Next(base); !got.Equal(tt.want) {
				t.Errorf("Expected next %v, got %v", tt.want, got)
			}
		})
	}
}

func TestScheduler_Check(t *testing.T) {
	tr := NewTracker(nil, 0, zerolog.Nop())
	s, err := NewScheduler(tr, "1h", time.Minute, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewScheduler failed: %v", err)
	}
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	tr.Add(Record{Model: "m"})
	next := now.Add(time.Hour)

	if got := s.check(next); !got.Equal(next) || len(tr.List()) != 1 {
		t.Errorf("Expected no reset before the due time, got next %v and %d records", got, len(tr.List()))
	}

	now = next
	if got := s.check(next); !got.Equal(next.Add(time.Hour)) {
		t.Errorf("Expected next reset an hour later, got %v", got)
	}
	if len(tr.List()) != 0 {
		t.Error("Expected tracker to be reset")
	}
}

func TestScheduler_StopsOnCancel(t *testing.T) {
	tr := NewTracker(nil, 0, zerolog.Nop())
	s, err := NewScheduler(tr, "@daily", time.Millisecond, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewScheduler failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Start(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Expected scheduler to stop after cancel")
	}
}

func TestNewScheduler_Errors(t *testing.T) {
	if _, err := NewScheduler(nil, "@daily", 0, zerolog.Nop()); err == nil {
		t.Error("Expected error for nil tracker")
	}
	if _, err := NewScheduler(NewTracker(nil, 0, zerolog.Nop()), "bogus", 0, zerolog.Nop()); err == nil {
		t.Error("Expected error for bad schedule")
	}
}
