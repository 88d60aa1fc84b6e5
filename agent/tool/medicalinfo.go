package tool

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog/log"

	contractx "github.com/tanpawarit/healthguard-agent/agent/contract"
	promptx "github.com/tanpawarit/healthguard-agent/agent/prompt"
	aresx "github.com/tanpawarit/healthguard-agent/pkg/ares"
)

const (
	ToolMedicalInfoQuery = "medical_info.query"

	SafetyNotice = "This appears to be a sensitive medical question. I can share general information, " +
		"but I cannot diagnose conditions or give emergency advice. If this is an emergency, contact emergency services now."
	Disclaimer = "This information is general in nature and does not replace professional medical advice. " +
		"Always consult a qualified healthcare provider about personal medical concerns."
)

var sensitiveKeywords = []string{
	"diagnose", "diagnosis", "cancer", "terminal", "fatal", "emergency",
	"life-threatening", "critical", "urgent medical", "suicide", "self-harm",
}

// IsSensitive reports whether question touches a topic that needs the safety
// notice.
func IsSensitive(question string) bool {
	q := strings.ToLower(question)
	for _, kw := range sensitiveKeywords {
		if strings.Contains(q, kw) {
			return true
		}
	}
	return false
}

type Source struct {
	URL   string `json:"url"`
	Title string `json:"title,omitempty"`
}

type MedicalQuery struct {
	Question  string
	Sensitive bool
}

type MedicalAnswer struct {
	Text    string
	Sources []Source
}

// Answerer is a backend of the medical information capability.
type Answerer interface {
	Name() string
	Answer(ctx context.Context, q MedicalQuery) (MedicalAnswer, error)
}

type MedicalInfoResult struct {
	Question   string   `json:"question"`
	Answer     string   `json:"answer"`
	Sources    []Source `json:"sources,omitempty"`
	Sensitive  bool     `json:"sensitive"`
	Disclaimer string   `json:"disclaimer"`
	Backend    string   `json:"backend"`
}

func (r MedicalInfoResult) Summary() string {
	return r.Answer
}

// MedicalInfo answers free-text medical questions through the first backend
// that succeeds.
type MedicalInfo struct {
	sealed
	backends []Answerer
}

func NewMedicalInfo(backends ...Answerer) (*MedicalInfo, error) {
	var kept []Answerer
	for _, b := range backends {
		if b != nil {
			kept = append(kept, b)
		}
	}
	if len(kept) == 0 {
		return nil, fmt.Errorf("%w: medical info needs at least one backend", contractx.ErrValidation)
	}
	return &MedicalInfo{backends: kept}, nil
}

func (m *MedicalInfo) Kind() contractx.CapabilityKind {
	return contractx.CapabilityMedicalInfo
}

func (m *MedicalInfo) Specs() []contractx.ToolSpec {
	return []contractx.ToolSpec{
		{
			Name: ToolMedicalInfoQuery,
			Desc: "Look up general medical information about conditions, medications and treatments.",
			Params: map[string]*schema.ParameterInfo{
				"question": {Type: schema.String, Desc: "The medical question in plain language", Required: true},
			},
		},
	}
}

func (m *MedicalInfo) Invoke(ctx context.Context, call Call) (any, error) {
	if call.Tool != ToolMedicalInfoQuery {
		return nil, fmt.Errorf("%w: %s", contractx.ErrUnknownTool, call.Tool)
	}

	q := MedicalQuery{Question: call.Args.String("question")}
	q.Sensitive = IsSensitive(q.Question)

	var errs []error
	for _, b := range m.backends {
		ans, err := b.Answer(ctx, q)
		if err == nil && strings.TrimSpace(ans.Text) != "" {
			text := strings.TrimSpace(ans.Text)
			if q.Sensitive {
				text = SafetyNotice + "\n\n" + text
			}
			return MedicalInfoResult{
				Question:   q.Question,
				Answer:     text,
				Sources:    ans.Sources,
				Sensitive:  q.Sensitive,
				Disclaimer: Disclaimer,
				Backend:    b.Name(),
			}, nil
		}
		if err == nil {
			err = errors.New("empty answer")
		}
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %s: %v", contractx.ErrProviderUnavailable, b.Name(), ctx.Err())
		}
		log.Warn().Str("backend", b.Name()).Err(err).Msg("medical info backend failed")
		errs = append(errs, fmt.Errorf("%s: %w", b.Name(), err))
	}
	return nil, fmt.Errorf("%w: %v", contractx.ErrProviderUnavailable, errors.Join(errs...))
}

// AresAnswerer queries the Traversaal Ares API.
type AresAnswerer struct {
	client *aresx.Client
}

func NewAresAnswerer(client *aresx.Client) *AresAnswerer {
	return &AresAnswerer{client: client}
}

func (a *AresAnswerer) Name() string { return "ares" }

func (a *AresAnswerer) Answer(ctx context.Context, q MedicalQuery) (MedicalAnswer, error) {
	res, err := a.client.Query(ctx, q.Question)
	if err != nil {
		return MedicalAnswer{}, err
	}
	out := MedicalAnswer{Text: res.Text}
	for _, s := range res.Sources {
		out.Sources = append(out.Sources, Source{URL: s.URL, Title: s.Title})
	}
	return out, nil
}

// ProviderAnswerer asks the reasoning provider directly with the medical
// information prompt.
type ProviderAnswerer struct {
	provider contractx.Provider
	prompts  promptx.PromptSet
}

func NewProviderAnswerer(provider contractx.Provider, prompts promptx.PromptSet) *ProviderAnswerer {
	return &ProviderAnswerer{provider: provider, prompts: prompts}
}

func (p *ProviderAnswerer) Name() string { return "llm:" + p.provider.Name() }

func (p *ProviderAnswerer) Answer(ctx context.Context, q MedicalQuery) (MedicalAnswer, error) {
	text, err := p.provider.Generate(ctx, p.prompts.Medical(q.Question, q.Sensitive))
	if err != nil {
		return MedicalAnswer{}, err
	}
	return MedicalAnswer{Text: text}, nil
}
