package prompt

import (
	_ "embed"
	"strings"
)

var (
	//go:embed template/system.txt
	systemRaw string

	//go:embed template/medical_info.txt
	medicalInfoRaw string

	//go:embed template/medical_sensitive.txt
	medicalSensitiveRaw string
)

// PromptSet holds loaded prompt content.
type PromptSet struct {
	System           string
	MedicalInfo      string
	MedicalSensitive string
}

// LoadPromptSet returns a PromptSet with trimmed prompt strings.
func LoadPromptSet() PromptSet {
	return PromptSet{
		System:           strings.TrimSpace(systemRaw),
		MedicalInfo:      strings.TrimSpace(medicalInfoRaw),
		MedicalSensitive: strings.TrimSpace(medicalSensitiveRaw),
	}
}

// Medical renders the single-shot prompt used when the reasoning provider
// answers a medical question directly.
func (p PromptSet) Medical(question string, sensitive bool) string {
	instructions := p.MedicalInfo
	if sensitive {
		instructions = p.MedicalSensitive
	}
	var b strings.Builder
	b.WriteString(instructions)
	b.WriteString("\n\nQuestion: ")
	b.WriteString(strings.TrimSpace(question))
	b.WriteString("\n\nAnswer:")
	return b.String()
}
