package reasoner

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/cloudwego/eino/schema"

	contractx "github.com/tanpawarit/healthguard-agent/agent/contract"
	statex "github.com/tanpawarit/healthguard-agent/agent/state"
)

// step is one Thought/Action/Observation entry of the scratchpad.
type step struct {
	Round       int
	Thought     string
	Action      string
	Observation string
}

func (r *Reasoner) buildPrompt(req contractx.ReasonRequest, steps []step) string {
	var b strings.Builder

	b.WriteString(r.prompts.System)
	b.WriteString("\n\n")

	now := req.Now.In(r.loc)
	fmt.Fprintf(&b, "Current time: %s (%s, %s)\n", now.Format(time.RFC3339), now.Weekday(), r.loc.String())
	fmt.Fprintf(&b, "Patient ID: %s\n\n", req.PatientID)

	b.WriteString("AVAILABLE TOOLS:\n")
	writeTools(&b, r.tools.Specs())

	b.WriteString("\nCONVERSATION HISTORY (oldest first):\n")
	writeHistory(&b, req.History)

	b.WriteString("\nPATIENT MESSAGE:\n")
	b.WriteString(strings.TrimSpace(req.Message))
	b.WriteString("\n")

	if len(steps) > 0 {
		b.WriteString("\nSCRATCHPAD (this turn):\n")
		for _, s := range steps {
			fmt.Fprintf(&b, "Round %d\n", s.Round)
			if s.Thought != "" {
				fmt.Fprintf(&b, "Thought: %s\n", s.Thought)
			}
			fmt.Fprintf(&b, "Action: %s\n", s.Action)
			fmt.Fprintf(&b, "Observation: %s\n", s.Observation)
		}
		fmt.Fprintf(&b, "\nRounds left: %d\n", r.cfg.MaxRounds-len(steps))
	}

	b.WriteString("\nReply with exactly one JSON object.")
	return b.String()
}

func writeTools(b *strings.Builder, specs []contractx.ToolSpec) {
	if len(specs) == 0 {
		b.WriteString("(none)\n")
		return
	}
	for _, spec := range specs {
		fmt.Fprintf(b, "- %s: %s\n", spec.Name, spec.Desc)
		names := make([]string, 0, len(spec.Params))
		for name := range spec.Params {
			names = append(names, name)
		}
		sort.Strings(names)
		if len(names) == 0 {
			b.WriteString("    arguments: none\n")
			continue
		}
		for _, name := range names {
			fmt.Fprintf(b, "    %s\n", describeParam(name, spec.Params[name]))
		}
	}
}

func describeParam(name string, p *schema.ParameterInfo) string {
	typ := string(p.Type)
	if p.Type == schema.Array && p.ElemInfo != nil {
		typ = "array of " + string(p.ElemInfo.Type)
	}
	parts := []string{typ}
	if p.Required {
		parts = append(parts, "required")
	}
	if len(p.Enum) > 0 {
		parts = append(parts, "one of "+strings.Join(p.Enum, "|"))
	}
	out := fmt.Sprintf("%s (%s)", name, strings.Join(parts, ", "))
	if p.Desc != "" {
		out += ": " + p.Desc
	}
	return out
}

func writeHistory(b *strings.Builder, turns []statex.ConversationTurn) {
	if len(turns) == 0 {
		b.WriteString("(no previous messages)\n")
		return
	}
	for _, t := range turns {
		fmt.Fprintf(b, "%s: %s\n", t.Role, strings.TrimSpace(t.Text))
	}
}
