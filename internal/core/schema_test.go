package core

import (
	"encoding/json"
	"testing"
)

func TestDecodeStructured_CategorySelection(t *testing.T) {
	raw := json.RawMessage(`{"categories":[{"main_id":"01","sub_id":"013"}]}`)
	v, err := DecodeStructured(SchemaCategorySelection, raw)
	if err != nil {
		t.Fatalf("DecodeStructured: %v", err)
	}
	sel, ok := v.(*CategorySelection)
	if !ok {
		t.Fatalf("expected *CategorySelection, got %T", v)
	}
	if len(sel.Categories) != 1 || sel.Categories[0].SubID != "013" {
		t.Fatalf("unexpected selection: %#v", sel)
	}
}

func TestDecodeStructured_RejectsMissingIDs(t *testing.T) {
	raw := json.RawMessage(`{"categories":[{"main_id":"01"}]}`)
	if _, err := DecodeStructured(SchemaCategorySelection, raw); err == nil {
		t.Fatalf("expected validation error for missing sub_id")
	}
}

func TestDecodeStructured_RejectsPlainText(t *testing.T) {
	raw := json.RawMessage(`"sorry, here is some prose instead"`)
	if _, err := DecodeStructured(SchemaIndicatorPlan, raw); err == nil {
		t.Fatalf("expected decode error for non-object payload")
	}
}

func TestDecodeStructured_RejectsEmptyPayload(t *testing.T) {
	if _, err := DecodeStructured(SchemaScoreReport, nil); err == nil {
		t.Fatalf("expected error for empty payload")
	}
}

func TestDecodeStructured_IndicatorPlan(t *testing.T) {
	raw := json.RawMessage(`{"kpis":[
		{"id":"kpi_001","name":"Session Latency","description":"avg ms","measure":"ms"},
		{"id":"kpi_002","name":"Energy Per Session","description":"kWh used","measure":"kWh"}
	]}`)
	v, err := DecodeStructured(SchemaIndicatorPlan, raw)
	if err != nil {
		t.Fatalf("DecodeStructured: %v", err)
	}
	plan := v.(*IndicatorPlan)
	if len(plan.Indicators) != 2 {
		t.Fatalf("expected 2 indicators, got %d", len(plan.Indicators))
	}
	if plan.Indicators[1].Measure != "kWh" {
		t.Fatalf("unexpected measure: %s", plan.Indicators[1].Measure)
	}
}

func TestDecodeStructured_CollectedValues_NullValue(t *testing.T) {
	raw := json.RawMessage(`{"collected_kpis":[
		{"kpi_id":"kpi_001","kpi_name":"Latency","value":"150","measure":"ms","ai_decided":false},
		{"kpi_id":"kpi_002","kpi_name":"Energy","value":null,"measure":"kWh","ai_decided":true}
	]}`)
	v, err := DecodeStructured(SchemaCollectedValues, raw)
	if err != nil {
		t.Fatalf("DecodeStructured: %v", err)
	}
	vals := v.(*CollectedValues)
	if vals.Values[0].Value == nil || *vals.Values[0].Value != "150" {
		t.Fatalf("expected first value 150")
	}
	if vals.Values[1].Value != nil || !vals.Values[1].AIDecided {
		t.Fatalf("expected second value nil and ai_decided")
	}
}

func TestDecodeStructured_ScoreReport(t *testing.T) {
	raw := json.RawMessage(`{"calculations":[
		{"kvi_code":"IWCA","kvi_title":"Water conservation","exact":null,"min":20.0,"max":30.0,"description":"range estimate"}
	]}`)
	v, err := DecodeStructured(SchemaScoreReport, raw)
	if err != nil {
		t.Fatalf("DecodeStructured: %v", err)
	}
	report := v.(*ScoreReport)
	if report.Scores[0].Exact != nil {
		t.Fatalf("expected exact to be nil")
	}
	if report.Scores[0].Min == nil || *report.Scores[0].Min != 20.0 {
		t.Fatalf("expected min 20.0")
	}
}

func TestDecodeStructured_UnknownKind(t *testing.T) {
	if _, err := DecodeStructured(SchemaNone, json.RawMessage(`{}`)); err == nil {
		t.Fatalf("expected error for undeclared schema kind")
	}
}
