package stage

import (
	"testing"

	"github.com/kviflow/kviflow/internal/config"
	"github.com/kviflow/kviflow/internal/core"
	"github.com/kviflow/kviflow/internal/logging"
)

func TestRegistryContainsAllStages(t *testing.T) {
	r := NewRegistry(logging.NewNop())

	descs := r.List()
	if len(descs) != len(core.AllStages()) {
		t.Fatalf("registered %d stages, want %d", len(descs), len(core.AllStages()))
	}
	for i, want := range core.AllStages() {
		if descs[i].Name != want {
			t.Errorf("position %d = %s, want %s", i, descs[i].Name, want)
		}
	}
	if r.First() != core.StageIntake {
		t.Errorf("First() = %s, want intake", r.First())
	}
}

func TestResolveUnknownStage(t *testing.T) {
	r := NewRegistry(logging.NewNop())

	if _, err := r.Resolve(core.Stage("review")); err == nil {
		t.Fatal("expected unknown-stage error")
	} else if !core.IsCategory(err, core.ErrCatNotFound) {
		t.Errorf("error category = %s, want not_found", core.GetCategory(err))
	}
}

func TestDescriptorShape(t *testing.T) {
	r := NewRegistry(logging.NewNop())

	for _, d := range r.List() {
		if d.SystemPrompt == "" {
			t.Errorf("%s: empty system prompt", d.Name)
		}
		if d.Model == "" {
			t.Errorf("%s: empty model", d.Name)
		}
		if d.Conversational != d.Name.Conversational() {
			t.Errorf("%s: conversational flag mismatch", d.Name)
		}
		if d.Conversational && d.Schema != core.SchemaNone {
			t.Errorf("%s: conversational stage declares schema %s", d.Name, d.Schema)
		}
		if !d.Conversational && d.Schema == core.SchemaNone {
			t.Errorf("%s: structured stage without schema", d.Name)
		}
		if !d.Conversational && d.TriggerPrompt == "" {
			t.Errorf("%s: structured stage without trigger prompt", d.Name)
		}
	}
}

func TestIsComplete(t *testing.T) {
	r := NewRegistry(logging.NewNop())
	intake, err := r.Resolve(core.StageIntake)
	if err != nil {
		t.Fatal(err)
	}

	cases := []struct {
		reply string
		want  bool
	}{
		{"Done! I have everything needed to determine the KVI categories that the service impacts.", true},
		{"DONE", true},
		{"I have gathered enough information to proceed.", true},
		{"Could you tell me more about your service?", false},
		{"", false},
	}
	for _, tc := range cases {
		if got := intake.IsComplete(tc.reply); got != tc.want {
			t.Errorf("IsComplete(%q) = %v, want %v", tc.reply, got, tc.want)
		}
	}

	empty := Descriptor{CompletionPhrases: nil}
	if empty.IsComplete("done") {
		t.Error("empty phrase set must never complete")
	}
}

func TestWithMaxSelections(t *testing.T) {
	r := NewRegistry(logging.NewNop(), WithMaxSelections(3))
	extract, err := r.Resolve(core.StageExtract)
	if err != nil {
		t.Fatal(err)
	}
	if extract.MaxSelections != 3 {
		t.Errorf("MaxSelections = %d, want 3", extract.MaxSelections)
	}
}

func TestWithModels(t *testing.T) {
	provider := config.ProviderConfig{
		ConversationalModel: "conv/model",
		StructuredModel:     "struct/model",
		Models:              map[string]string{"compute": "special/model"},
	}
	r := NewRegistry(logging.NewNop(), WithModels(provider.ModelFor))

	check := func(stage core.Stage, want string) {
		t.Helper()
		d, err := r.Resolve(stage)
		if err != nil {
			t.Fatal(err)
		}
		if d.Model != want {
			t.Errorf("%s model = %q, want %q", stage, d.Model, want)
		}
	}
	check(core.StageIntake, "conv/model")
	check(core.StageExtract, "struct/model")
	check(core.StageCompute, "special/model")
}

func TestNextSkipsNothingWhenAllRegistered(t *testing.T) {
	r := NewRegistry(logging.NewNop())

	if got := r.Next(core.StageIntake); got != core.StageExtract {
		t.Errorf("Next(intake) = %s, want extract", got)
	}
	if got := r.Next(core.StageAdvise); got != core.StageDone {
		t.Errorf("Next(advise) = %s, want done", got)
	}
}
