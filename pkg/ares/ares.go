package ares

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/sony/gobreaker"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var (
	// ErrUnavailable marks transport failures, 5xx replies and an open breaker.
	ErrUnavailable = errors.New("ares unavailable")
	ErrEmptyQuery  = errors.New("ares query is empty")
	ErrBadResponse = errors.New("ares response could not be parsed")
	ErrBadConfig   = errors.New("ares config is invalid")
)

const (
	DefaultURL           = "https://api-ares.traversaal.ai/live/predict"
	maxResponseSizeBytes = 2 << 20
)

type Config struct {
	APIKey           string        `envconfig:"API_KEY" split_words:"true"`
	URL              string        `envconfig:"URL" split_words:"true" default:"https://api-ares.traversaal.ai/live/predict"`
	Timeout          time.Duration `envconfig:"TIMEOUT" split_words:"true" default:"20s"`
	FailureThreshold uint32        `envconfig:"FAILURE_THRESHOLD" split_words:"true" default:"3"`
	OpenTimeout      time.Duration `envconfig:"OPEN_TIMEOUT" split_words:"true" default:"30s"`
}

func (c Config) Enabled() bool {
	return strings.TrimSpace(c.APIKey) != ""
}

func (c Config) Validate() error {
	if !c.Enabled() {
		return nil
	}
	if u := strings.TrimSpace(c.URL); u != "" {
		if _, err := url.ParseRequestURI(u); err != nil {
			return fmt.Errorf("%w: url: %v", ErrBadConfig, err)
		}
	}
	if c.Timeout < 0 {
		return fmt.Errorf("%w: timeout must not be negative", ErrBadConfig)
	}
	return nil
}

type Source struct {
	URL   string `json:"url"`
	Title string `json:"title,omitempty"`
}

type Answer struct {
	Text    string   `json:"text"`
	Sources []Source `json:"sources,omitempty"`
}

type Option func(*Client)

func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// Client queries the Traversaal Ares live prediction endpoint. Consecutive
// failures open a circuit breaker that fails fast until OpenTimeout elapses.
type Client struct {
	url        string
	apiKey     string
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
}

func New(cfg Config, opts ...Option) (*Client, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errors.New("ares api key is required")
	}
	endpoint := strings.TrimSpace(cfg.URL)
	if endpoint == "" {
		endpoint = DefaultURL
	}
	if _, err := url.ParseRequestURI(endpoint); err != nil {
		return nil, fmt.Errorf("invalid ares url: %w", err)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	threshold := cfg.FailureThreshold
	if threshold == 0 {
		threshold = 3
	}

	c := &Client{
		url:        endpoint,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
	}
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "ares",
		Timeout: cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !errors.Is(err, ErrUnavailable)
		},
	})

	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c, nil
}

// Query sends one question and returns the parsed answer.
func (c *Client) Query(ctx context.Context, question string) (*Answer, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, ErrEmptyQuery
	}

	out, err := c.breaker.Execute(func() (interface{}, error) {
		return c.do(ctx, question)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		return nil, err
	}
	return out.(*Answer), nil
}

func (c *Client) do(ctx context.Context, question string) (*Answer, error) {
	body, err := json.Marshal(map[string]any{"query": []string{question}})
	if err != nil {
		return nil, fmt.Errorf("marshal ares request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build ares request: %w", err)
	}
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSizeBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", ErrUnavailable, err)
	}

	switch {
	case resp.StatusCode >= http.StatusInternalServerError, resp.StatusCode == http.StatusTooManyRequests:
		return nil, fmt.Errorf("%w: http status=%d", ErrUnavailable, resp.StatusCode)
	case resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices:
		return nil, fmt.Errorf("ares http status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	return Parse(raw)
}

// Parse extracts the answer text and citations from a live/predict reply.
// predictions may be a list, a single object or a plain string; objects carry
// the text under "text" or "answer".
func Parse(raw []byte) (*Answer, error) {
	var envelope map[string]jsoniter.RawMessage
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadResponse, err)
	}
	predictions, ok := envelope["predictions"]
	if !ok {
		return nil, fmt.Errorf("%w: missing predictions", ErrBadResponse)
	}

	var (
		texts   []string
		sources []Source
	)
	collect := func(item jsoniter.RawMessage) {
		text, found := parsePrediction(item)
		if text != "" {
			texts = append(texts, text)
		}
		sources = append(sources, found...)
	}

	switch trimmed := bytes.TrimSpace(predictions); {
	case len(trimmed) > 0 && trimmed[0] == '[':
		var items []jsoniter.RawMessage
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBadResponse, err)
		}
		for _, item := range items {
			collect(item)
		}
	default:
		collect(trimmed)
	}

	answer := &Answer{
		Text:    strings.TrimSpace(strings.Join(texts, "\n\n")),
		Sources: dedupSources(sources),
	}
	if answer.Text == "" {
		return nil, fmt.Errorf("%w: empty predictions", ErrBadResponse)
	}
	return answer, nil
}

func parsePrediction(raw jsoniter.RawMessage) (string, []Source) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return "", nil
	}

	switch trimmed[0] {
	case '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return "", nil
		}
		return strings.TrimSpace(s), nil
	case '{':
		var obj struct {
			Text     string `json:"text"`
			Answer   string `json:"answer"`
			Response string `json:"response_text"`
			URL      string `json:"url"`
			Title    string `json:"title"`
		}
		if err := json.Unmarshal(trimmed, &obj); err != nil {
			return "", nil
		}
		text := firstNonEmpty(obj.Text, obj.Answer, obj.Response)
		if text == "" {
			text = string(trimmed)
		}
		var sources []Source
		if obj.URL != "" {
			sources = append(sources, Source{URL: obj.URL, Title: obj.Title})
		}
		return strings.TrimSpace(text), sources
	case 'n':
		return "", nil
	default:
		return string(trimmed), nil
	}
}

func dedupSources(in []Source) []Source {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(in))
	out := make([]Source, 0, len(in))
	for _, s := range in {
		u := strings.TrimSpace(s.URL)
		if u == "" {
			continue
		}
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, Source{URL: u, Title: strings.TrimSpace(s.Title)})
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
