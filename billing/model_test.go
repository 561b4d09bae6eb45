package billing

import (
	"context"
	"testing"
	"time"
)

func TestParsePlan(t *testing.T) {
	for in, want := range map[string]Plan{
		"starter":       Starter,
		" PROFESSIONAL": Professional,
		"Agency":        Agency,
		"FREE":          Free,
	} {
		got, err := ParsePlan(in)
		if err != nil || got != want {
			t.Errorf("ParsePlan(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := ParsePlan("enterprise"); err == nil {
		t.Error("unknown plan accepted")
	}
}

func TestNewTrial_ExpiresThroughSweep(t *testing.T) {
	store := NewMemoryStore()
	trial := NewTrial("t1", Starter, sweepNow.Add(-15*24*time.Hour), 14*24*time.Hour)
	if trial.Expired(sweepNow.Add(-24 * time.Hour * 2)) {
		t.Fatal("trial expired inside its window")
	}
	seed(t, store, *trial)

	res, err := newSweeper(store).Sweep(context.Background(), "t1")
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if !res.Expired || res.Plan != Free || res.DowngradedTo != Free {
		t.Errorf("result = %+v", res)
	}
}
