package model

import (
	"testing"
)

func TestNewID_Monotonic(t *testing.T) {
	prev := ""
	for i := 0; i < 200; i++ {
		id, err := NewID()
		if err != nil {
			t.Fatalf("NewID() error = %v", err)
		}
		if len(id) != 26 {
			t.Fatalf("ID length = %d, want 26 (ULID)", len(id))
		}
		if id <= prev {
			t.Fatalf("NewID() = %s not after %s", id, prev)
		}
		prev = id
	}
}

func TestMatchPillar(t *testing.T) {
	titles := []string{"Ship payments integration", "Reduce churn"}

	if got := MatchPillar(Ptr("Ship payments integration"), titles); got == nil || *got != "Ship payments integration" {
		t.Errorf("exact match = %v", got)
	}
	if got := MatchPillar(Ptr("ship payments integration"), titles); got != nil {
		t.Errorf("case-different label should not match, got %q", *got)
	}
	if got := MatchPillar(Ptr("Payments"), titles); got != nil {
		t.Errorf("paraphrase should not match, got %q", *got)
	}
	if got := MatchPillar(nil, titles); got != nil {
		t.Error("nil label should stay nil")
	}
	if got := MatchPillar(Ptr("Reduce churn"), nil); got != nil {
		t.Error("no pillars means no match")
	}
}

func TestCanonPillarTitles(t *testing.T) {
	var nilCanon *Canon
	if nilCanon.PillarTitles() != nil {
		t.Error("nil canon should have no titles")
	}
	c := &Canon{Pillars: []Pillar{{Title: "A"}, {Title: ""}, {Title: "B", Health: "at_risk"}}}
	got := c.PillarTitles()
	if len(got) != 2 || got[0] != "A" || got[1] != "B" {
		t.Errorf("PillarTitles() = %v", got)
	}
}

func TestStatusValidity(t *testing.T) {
	if !ActionInProgress.Valid() || ActionInProgress.Extractable() {
		t.Error("in_progress is settable but not extractable")
	}
	if !ActionBlocked.Extractable() {
		t.Error("blocked should be extractable")
	}
	if ActionStatus("stuck").Valid() {
		t.Error("unknown action status should be invalid")
	}
	for _, s := range []SignalStatus{SignalOpen, SignalResolved, SignalDismissed} {
		if !s.Valid() {
			t.Errorf("%s should be valid", s)
		}
	}
	if Priority("urgent").Valid() {
		t.Error("unknown priority should be invalid")
	}
	if !DocumentSession.Personal() || DocumentCanon.Personal() {
		t.Error("session docs are personal, canon docs are shared")
	}
}
