package classify

import "testing"

func TestAnalyzePlainProse(t *testing.T) {
	a := Analyze("thanks for calling, how can I help you today")
	if a.Heavy() {
		t.Errorf("plain prose should not be heavy: %+v", a)
	}
	if a.CodeScore != 0 {
		t.Errorf("no code expected, got %f", a.CodeScore)
	}
}

func TestAnalyzeReasoningKeywords(t *testing.T) {
	a := Analyze("prove the invariant, then diagnose the root cause and derive the optimal fix")
	if a.ReasoningScore < 0.6 {
		t.Errorf("expected high reasoning score, got %f", a.ReasoningScore)
	}
	if !a.Heavy() {
		t.Error("reasoning-dense payload should be heavy")
	}
}

func TestAnalyzeCodeDetection(t *testing.T) {
	payload := "this function panics:\n```\nfunc main() { panic(\"boom\") }\n```\nhere is the stack trace"
	a := Analyze(payload)
	if a.CodeScore == 0 {
		t.Errorf("expected nonzero code score, got %+v", a)
	}
}

func TestAnalyzeMultiStep(t *testing.T) {
	payload := "step 1 restart the service\nstep 2 check the logs\nfinally verify the metrics"
	a := Analyze(payload)
	if a.MultiStepScore == 0 {
		t.Errorf("expected nonzero multi-step score, got %+v", a)
	}
}

func TestAnalyzeScoresSaturate(t *testing.T) {
	payload := ""
	for i := 0; i < 20; i++ {
		payload += "prove derive deduce infer contradiction diagnose optimal minimize maximize "
	}
	a := Analyze(payload)
	if a.ReasoningScore > 1.0 {
		t.Errorf("scores must clamp at 1.0, got %f", a.ReasoningScore)
	}
}
