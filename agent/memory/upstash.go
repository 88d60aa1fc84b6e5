package memory

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	contractx "github.com/tanpawarit/healthguard-agent/agent/contract"
	statex "github.com/tanpawarit/healthguard-agent/agent/state"
)

var ErrInvalidPatient = errors.New("patient id is empty")

const (
	defaultKeyPrefix     = "healthguard:window:"
	defaultCacheTTL      = 30 * time.Minute
	maxResponseSizeBytes = 2 << 20
)

// UpstashOption customizes UpstashCache.
type UpstashOption func(*UpstashCache)

func WithKeyPrefix(prefix string) UpstashOption {
	return func(s *UpstashCache) {
		trimmed := strings.TrimSpace(prefix)
		if trimmed != "" {
			s.keyPrefix = trimmed
		}
	}
}

func WithTTL(ttl time.Duration) UpstashOption {
	return func(s *UpstashCache) {
		s.ttl = ttl
	}
}

func WithHTTPClient(client *http.Client) UpstashOption {
	return func(s *UpstashCache) {
		if client != nil {
			s.httpClient = client
		}
	}
}

// UpstashCache keeps each patient's recent-turn window in Upstash Redis via
// the REST API, so several replicas share one cache.
type UpstashCache struct {
	baseURL    string
	token      string
	httpClient *http.Client
	keyPrefix  string
	ttl        time.Duration
}

var _ Cache = (*UpstashCache)(nil)

type redisRESTResponse struct {
	Result json.RawMessage `json:"result"`
	Error  string          `json:"error"`
}

type UpstashRedisConfig struct {
	URL     string        `envconfig:"URL" split_words:"true"`
	Token   string        `envconfig:"TOKEN" split_words:"true"`
	Timeout time.Duration `envconfig:"TIMEOUT" split_words:"true" default:"10s"`
	TTL     time.Duration `envconfig:"TTL" split_words:"true" default:"30m"`
}

func (c UpstashRedisConfig) Enabled() bool {
	return strings.TrimSpace(c.URL) != ""
}

func (c UpstashRedisConfig) Validate() error {
	if !c.Enabled() {
		return nil
	}
	if strings.TrimSpace(c.Token) == "" {
		return fmt.Errorf("%w: upstash token is required when url is set", contractx.ErrValidation)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("%w: upstash timeout must be positive", contractx.ErrValidation)
	}
	return nil
}

func NewUpstashCache(cfg UpstashRedisConfig, opts ...UpstashOption) (*UpstashCache, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.URL), "/")
	if baseURL == "" {
		return nil, errors.New("upstash redis url is required")
	}
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, fmt.Errorf("invalid redis rest url: %w", err)
	}

	token := strings.TrimSpace(cfg.Token)
	if token == "" {
		return nil, errors.New("upstash redis token is required")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ttl := cfg.TTL
	if ttl == 0 {
		ttl = defaultCacheTTL
	}

	c := &UpstashCache{
		baseURL:    baseURL,
		token:      token,
		httpClient: &http.Client{Timeout: timeout},
		keyPrefix:  defaultKeyPrefix,
		ttl:        ttl,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}

	if c.ttl < 0 {
		return nil, errors.New("ttl must be >= 0")
	}
	return c, nil
}

func (s *UpstashCache) Get(ctx context.Context, patientID string) ([]statex.ConversationTurn, bool, error) {
	key, err := s.redisKey(patientID)
	if err != nil {
		return nil, false, err
	}

	resp, err := s.exec(ctx, []any{"GET", key})
	if err != nil {
		return nil, false, err
	}

	result := bytes.TrimSpace(resp.Result)
	if len(result) == 0 || bytes.Equal(result, []byte("null")) {
		return nil, false, nil
	}

	var encoded string
	if err := json.Unmarshal(result, &encoded); err != nil {
		return nil, false, fmt.Errorf("decode window payload: %w", err)
	}

	var turns []statex.ConversationTurn
	if err := json.Unmarshal([]byte(encoded), &turns); err != nil {
		return nil, false, fmt.Errorf("unmarshal window: %w", err)
	}
	return turns, true, nil
}

func (s *UpstashCache) Set(ctx context.Context, patientID string, turns []statex.ConversationTurn) error {
	key, err := s.redisKey(patientID)
	if err != nil {
		return err
	}
	if turns == nil {
		turns = []statex.ConversationTurn{}
	}

	payload, err := json.Marshal(turns)
	if err != nil {
		return fmt.Errorf("marshal window: %w", err)
	}

	cmd := []any{"SET", key, string(payload)}
	if s.ttl > 0 {
		cmd = append(cmd, "EX", ttlSeconds(s.ttl))
	}
	_, err = s.exec(ctx, cmd)
	return err
}

func (s *UpstashCache) Delete(ctx context.Context, patientID string) error {
	key, err := s.redisKey(patientID)
	if err != nil {
		return err
	}
	_, err = s.exec(ctx, []any{"DEL", key})
	return err
}

func (s *UpstashCache) redisKey(patientID string) (string, error) {
	if strings.TrimSpace(patientID) == "" {
		return "", ErrInvalidPatient
	}
	return strings.TrimSpace(s.keyPrefix) + patientID, nil
}

func (s *UpstashCache) exec(ctx context.Context, command []any) (*redisRESTResponse, error) {
	if s == nil {
		return nil, errors.New("nil cache")
	}
	if len(command) == 0 {
		return nil, errors.New("empty redis command")
	}

	body, err := json.Marshal(command)
	if err != nil {
		return nil, fmt.Errorf("marshal redis command: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build redis request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute redis request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSizeBytes))
	if err != nil {
		return nil, fmt.Errorf("read redis response: %w", err)
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, fmt.Errorf("redis http status=%d body=%s", resp.StatusCode, string(raw))
	}

	var parsed redisRESTResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("decode redis response: %w", err)
	}
	if parsed.Error != "" {
		return nil, errors.New(parsed.Error)
	}
	return &parsed, nil
}

func ttlSeconds(ttl time.Duration) int64 {
	seconds := ttl / time.Second
	if seconds <= 0 {
		return 1
	}
	if ttl%time.Second != 0 {
		seconds++
	}
	return int64(seconds)
}
