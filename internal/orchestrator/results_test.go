package orchestrator

import (
	"testing"

	"github.com/kviflow/kviflow/internal/core"
)

func TestResultStore_PutReplacesKeepingPosition(t *testing.T) {
	store := NewResultStore()
	store.Put(&core.StageResult{Key: core.KeyFor(core.StageIntake), Text: "first"})
	store.Put(&core.StageResult{Key: core.KeyFor(core.StageExtract), Text: "second"})
	store.Put(&core.StageResult{Key: core.KeyFor(core.StageIntake), Text: "replaced"})

	if store.Len() != 2 {
		t.Fatalf("Len = %d, want 2", store.Len())
	}
	keys := store.Keys()
	if keys[0] != core.KeyFor(core.StageIntake) || keys[1] != core.KeyFor(core.StageExtract) {
		t.Fatalf("unexpected key order: %#v", keys)
	}
	if got := store.ForStage(core.StageIntake).Text; got != "replaced" {
		t.Fatalf("Text = %q, want replaced", got)
	}
}

func TestResultStore_GetAndHas(t *testing.T) {
	store := NewResultStore()
	key := core.KeyForIndicator(core.CategoryRef{MainID: "01", SubID: "011"}, "IWCA")
	store.Put(&core.StageResult{Key: key, Text: "score"})

	if !store.Has(key) {
		t.Fatal("Has = false for stored key")
	}
	if store.Get(key) == nil {
		t.Fatal("Get returned nil for stored key")
	}
	other := core.KeyForIndicator(core.CategoryRef{MainID: "01", SubID: "011"}, "RSHD")
	if store.Has(other) || store.Get(other) != nil {
		t.Fatal("unexpected hit for a different indicator key")
	}
}

func TestResultStore_ComputeResultsOrderedAndFiltered(t *testing.T) {
	store := NewResultStore()
	store.Put(&core.StageResult{Key: core.KeyFor(core.StageFinalize), Text: "cats"})
	catA := core.CategoryRef{MainID: "01", SubID: "011"}
	catB := core.CategoryRef{MainID: "02", SubID: "021"}
	store.Put(&core.StageResult{Key: core.KeyForIndicator(catA, "IWCA"), Text: "a1"})
	store.Put(&core.StageResult{Key: core.KeyForIndicator(catA, "RSHD"), Text: "a2"})
	store.Put(&core.StageResult{Key: core.KeyForIndicator(catB, "RWRD"), Text: "b1"})

	computed := store.ComputeResults()
	if len(computed) != 3 {
		t.Fatalf("ComputeResults length = %d, want 3", len(computed))
	}
	wantTexts := []string{"a1", "a2", "b1"}
	for i, want := range wantTexts {
		if computed[i].Text != want {
			t.Errorf("computed[%d].Text = %q, want %q", i, computed[i].Text, want)
		}
	}
}

func TestResultStore_CloneIsIndependent(t *testing.T) {
	store := NewResultStore()
	store.Put(&core.StageResult{Key: core.KeyFor(core.StageIntake), Text: "base"})

	clone := store.Clone()
	clone.Put(&core.StageResult{Key: core.KeyFor(core.StageExtract), Text: "staged"})
	clone.Put(&core.StageResult{Key: core.KeyFor(core.StageIntake), Text: "staged-replace"})

	if store.Len() != 1 {
		t.Fatalf("original Len = %d after clone writes, want 1", store.Len())
	}
	if got := store.ForStage(core.StageIntake).Text; got != "base" {
		t.Fatalf("original mutated by clone write: %q", got)
	}
	if clone.Len() != 2 {
		t.Fatalf("clone Len = %d, want 2", clone.Len())
	}
}
