package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/openai/openai-go/option"

	contractx "github.com/tanpawarit/healthguard-agent/agent/contract"
)

type fakeProvider struct {
	name  string
	reply string
	err   error
	calls int
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) Generate(ctx context.Context, prompt string) (string, error) {
	f.calls++
	return f.reply, f.err
}

type fakeChatModel struct {
	got []*schema.Message
}

func (f *fakeChatModel) Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	f.got = input
	return schema.AssistantMessage(`{"type":"final_answer","answer":"ok"}`, nil), nil
}

func (f *fakeChatModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("not implemented")
}

func TestConfigValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{name: "openai ok", cfg: Config{Provider: "openai", OpenAI: OpenAIConfig{APIKey: "k", Model: "gpt-4o"}}},
		{name: "openai missing key", cfg: Config{Provider: "openai", OpenAI: OpenAIConfig{Model: "gpt-4o"}}, wantErr: true},
		{name: "unknown provider", cfg: Config{Provider: "claude"}, wantErr: true},
		{name: "fallback validated", cfg: Config{
			Provider: "openai",
			Fallback: []string{"gemini"},
			OpenAI:   OpenAIConfig{APIKey: "k", Model: "gpt-4o"},
		}, wantErr: true},
		{name: "ollama ok", cfg: Config{Provider: "ollama", Ollama: OllamaConfig{Model: "llama3.1"}}},
		{name: "temperature range", cfg: Config{Provider: "ollama", Temperature: 3, Ollama: OllamaConfig{Model: "m"}}, wantErr: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := tt.cfg.Validate()
			if tt.wantErr && !errors.Is(err, contractx.ErrValidation) {
				t.Fatalf("Validate() error = %v, want ErrValidation", err)
			}
			if !tt.wantErr && err != nil {
				t.Fatalf("Validate() error = %v", err)
			}
		})
	}
}

func TestConfigChainDeduplicates(t *testing.T) {
	t.Parallel()

	cfg := Config{Provider: "OpenAI", Fallback: []string{" gemini", "openai", "", "ollama"}}
	got := cfg.Chain()
	want := []string{"openai", "gemini", "ollama"}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("Chain() = %v, want %v", got, want)
	}
}

func TestFallbackReturnsFirstSuccess(t *testing.T) {
	t.Parallel()

	first := &fakeProvider{name: "openai", err: errors.New("502")}
	second := &fakeProvider{name: "gemini", reply: "hello"}
	third := &fakeProvider{name: "ollama", reply: "unused"}
	f := &Fallback{Providers: []contractx.Provider{first, second, third}}

	got, err := f.Generate(context.Background(), "hi")
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if got != "hello" || third.calls != 0 {
		t.Fatalf("Generate() = %q, third calls = %d", got, third.calls)
	}
	if f.Name() != "openai>gemini>ollama" {
		t.Fatalf("Name() = %q", f.Name())
	}
}

func TestFallbackStopsOnDeadline(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	<-ctx.Done()

	first := &fakeProvider{name: "openai", err: context.DeadlineExceeded}
	second := &fakeProvider{name: "gemini", reply: "late"}
	f := &Fallback{Providers: []contractx.Provider{first, second}}

	_, err := f.Generate(ctx, "hi")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Generate() error = %v, want deadline exceeded", err)
	}
	if second.calls != 0 {
		t.Fatal("fallback should not run after the deadline")
	}
}

func TestChatModelProvider(t *testing.T) {
	t.Parallel()

	m := &fakeChatModel{}
	p := NewChatModelProvider(ProviderOpenRouter, m)
	got, err := p.Generate(context.Background(), "prompt text")
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if got != `{"type":"final_answer","answer":"ok"}` {
		t.Fatalf("Generate() = %q", got)
	}
	if len(m.got) != 1 || m.got[0].Role != schema.User || m.got[0].Content != "prompt text" {
		t.Fatalf("unexpected input: %+v", m.got)
	}
}

func TestOpenAIProviderGenerate(t *testing.T) {
	t.Parallel()

	var gotBody map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"c1","object":"chat.completion","created":1,"model":"gpt-4o",`+
			`"choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"pong"}}]}`)
	}))
	t.Cleanup(server.Close)

	p := NewOpenAI(OpenAIConfig{APIKey: "k", BaseURL: server.URL, Model: "gpt-4o"}, 0.2, option.WithMaxRetries(0))
	got, err := p.Generate(context.Background(), "ping")
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if got != "pong" {
		t.Fatalf("Generate() = %q", got)
	}
	if gotBody["model"] != "gpt-4o" {
		t.Fatalf("model = %v", gotBody["model"])
	}
}

func TestOllamaProviderGenerate(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" {
			t.Errorf("path = %s", r.URL.Path)
		}
		var req map[string]any
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req["stream"] != false {
			t.Errorf("stream = %v, want false", req["stream"])
		}
		fmt.Fprintln(w, `{"model":"llama3.1","response":"hello there","done":true}`)
	}))
	t.Cleanup(server.Close)

	p, err := NewOllama(OllamaConfig{BaseURL: server.URL, Model: "llama3.1", Timeout: time.Second}, 0.2)
	if err != nil {
		t.Fatalf("NewOllama() error = %v", err)
	}
	got, err := p.Generate(context.Background(), "hi")
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if got != "hello there" {
		t.Fatalf("Generate() = %q", got)
	}
}

func TestNewSingleAndChain(t *testing.T) {
	t.Parallel()

	single, err := New(context.Background(), Config{Provider: "ollama", Ollama: OllamaConfig{BaseURL: "http://localhost:11434", Model: "m"}})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if _, ok := single.(*OllamaProvider); !ok {
		t.Fatalf("New() = %T, want *OllamaProvider", single)
	}

	chain, err := New(context.Background(), Config{
		Provider: "openai",
		Fallback: []string{"ollama"},
		OpenAI:   OpenAIConfig{APIKey: "k", Model: "gpt-4o"},
		Ollama:   OllamaConfig{BaseURL: "http://localhost:11434", Model: "m"},
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if chain.Name() != "openai>ollama" {
		t.Fatalf("Name() = %q", chain.Name())
	}
}
