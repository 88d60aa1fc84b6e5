package prompt

import (
	"strings"
	"testing"
)

func TestLoadPromptSet(t *testing.T) {
	t.Parallel()

	set := LoadPromptSet()
	if set.System == "" || set.MedicalInfo == "" || set.MedicalSensitive == "" {
		t.Fatalf("expected every prompt to be loaded: %+v", set)
	}
	for _, marker := range []string{`"tool_call"`, `"final_answer"`, `"clarify"`} {
		if !strings.Contains(set.System, marker) {
			t.Fatalf("system prompt missing %s", marker)
		}
	}
}

func TestMedicalSelectsInstructions(t *testing.T) {
	t.Parallel()

	set := LoadPromptSet()
	general := set.Medical(" what is ibuprofen? ", false)
	if !strings.HasPrefix(general, set.MedicalInfo) || !strings.Contains(general, "Question: what is ibuprofen?") {
		t.Fatalf("unexpected general prompt: %q", general)
	}
	sensitive := set.Medical("is this cancer", true)
	if !strings.HasPrefix(sensitive, set.MedicalSensitive) {
		t.Fatalf("unexpected sensitive prompt: %q", sensitive)
	}
}
