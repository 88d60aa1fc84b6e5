package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"

	orchestratorx "github.com/tanpawarit/healthguard-agent/agent/agents/orchestrator"
	reasonerx "github.com/tanpawarit/healthguard-agent/agent/agents/reasoner"
	apix "github.com/tanpawarit/healthguard-agent/agent/api"
	contractx "github.com/tanpawarit/healthguard-agent/agent/contract"
	llmx "github.com/tanpawarit/healthguard-agent/agent/llm"
	memoryx "github.com/tanpawarit/healthguard-agent/agent/memory"
	promptx "github.com/tanpawarit/healthguard-agent/agent/prompt"
	statex "github.com/tanpawarit/healthguard-agent/agent/state"
	"github.com/tanpawarit/healthguard-agent/agent/state/sqlstore"
	toolx "github.com/tanpawarit/healthguard-agent/agent/tool"
	aresx "github.com/tanpawarit/healthguard-agent/pkg/ares"
	configx "github.com/tanpawarit/healthguard-agent/pkg/config"
	_ "github.com/tanpawarit/healthguard-agent/pkg/logger/autoload"
	metricsx "github.com/tanpawarit/healthguard-agent/pkg/metrics"
)

type AppConfig struct {
	Store       string        `envconfig:"STORE" default:"memory"`
	Timezone    string        `envconfig:"TIMEZONE" default:"UTC"`
	SeedDemo    bool          `envconfig:"SEED_DEMO" split_words:"true" default:"false"`
	MedicalInfo bool          `envconfig:"MEDICAL_INFO" split_words:"true" default:"true"`
	WindowSize  int           `envconfig:"WINDOW_SIZE" split_words:"true" default:"12"`
	CacheTTL    time.Duration `envconfig:"CACHE_TTL" split_words:"true" default:"30m"`

	SQL      sqlstore.Config  `envconfig:"SQL"`
	Reasoner reasonerx.Config `envconfig:"REASONER"`
	HTTP     apix.Config      `envconfig:"HTTP"`
}

func (c *AppConfig) Validate() error {
	switch strings.ToLower(c.Store) {
	case "memory", "sql":
	default:
		return fmt.Errorf("%w: unknown store %q", contractx.ErrValidation, c.Store)
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("%w: timezone %q: %v", contractx.ErrValidation, c.Timezone, err)
	}
	return nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatal().Err(err).Msg("healthguard agent stopped")
	}
}

func run(ctx context.Context) error {
	appCfg := configx.MustNew[AppConfig]("HEALTHGUARD")
	llmCfg := configx.MustNew[llmx.Config]("LLM")
	aresCfg := configx.MustNew[aresx.Config]("ARES")
	upstashCfg := configx.MustNew[memoryx.UpstashRedisConfig]("UPSTASH_REDIS")

	loc, err := time.LoadLocation(appCfg.Timezone)
	if err != nil {
		return err
	}

	store, closeStore, err := openStore(ctx, appCfg)
	if err != nil {
		return err
	}
	defer closeStore()

	if appCfg.SeedDemo {
		if err := statex.SeedDemo(ctx, store, time.Now().UTC()); err != nil {
			return err
		}
		log.Info().Str("patient_id", statex.DemoPatientID).Msg("demo patient seeded")
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := metricsx.New(registry, "healthguard")

	provider, err := llmx.New(ctx, *llmCfg)
	if err != nil {
		return fmt.Errorf("build reasoning provider: %w", err)
	}
	prompts := promptx.LoadPromptSet()

	analysis := toolx.NewHealthAnalysis(store)
	caps := []toolx.Capability{
		toolx.NewMedication(store),
		toolx.NewSymptom(store),
		analysis,
	}
	if appCfg.MedicalInfo {
		medInfo, err := buildMedicalInfo(*aresCfg, provider, prompts)
		if err != nil {
			return err
		}
		caps = append(caps, medInfo)
	}
	catalog, err := toolx.NewCatalog(caps, toolx.WithLocation(loc))
	if err != nil {
		return err
	}

	windowOpts := []memoryx.Option{memoryx.WithSize(appCfg.WindowSize)}
	if upstashCfg.Enabled() {
		cache, err := memoryx.NewUpstashCache(*upstashCfg)
		if err != nil {
			return fmt.Errorf("build upstash cache: %w", err)
		}
		windowOpts = append(windowOpts, memoryx.WithCache(cache))
	} else {
		windowOpts = append(windowOpts, memoryx.WithCache(memoryx.NewLocalCache(appCfg.CacheTTL)))
	}
	window := memoryx.NewWindow(store, windowOpts...)

	reasoner, err := reasonerx.New(provider, catalog, prompts, appCfg.Reasoner,
		reasonerx.WithMetrics(metrics),
		reasonerx.WithLocation(loc),
	)
	if err != nil {
		return err
	}

	orchestrator, err := orchestratorx.New(store, window, reasoner, orchestratorx.WithMetrics(metrics))
	if err != nil {
		return err
	}

	server := apix.New(appCfg.HTTP, orchestrator, store, analysis,
		apix.WithMetrics(metrics, registry),
		apix.WithLocation(loc),
	)

	log.Info().
		Str("addr", appCfg.HTTP.Addr).
		Str("store", appCfg.Store).
		Str("provider", provider.Name()).
		Int("tools", len(catalog.Specs())).
		Msg("healthguard agent listening")
	return server.ListenAndServe(ctx)
}

func openStore(ctx context.Context, cfg *AppConfig) (statex.Store, func(), error) {
	if strings.EqualFold(cfg.Store, "sql") {
		s, err := sqlstore.Open(ctx, cfg.SQL)
		if err != nil {
			return nil, nil, fmt.Errorf("open sql store: %w", err)
		}
		return s, func() {
			if err := s.Close(); err != nil {
				log.Warn().Err(err).Msg("close sql store")
			}
		}, nil
	}
	return statex.NewMemoryStore(), func() {}, nil
}

// buildMedicalInfo prefers the Ares API and keeps the reasoning provider as
// the fallback backend.
func buildMedicalInfo(cfg aresx.Config, provider contractx.Provider, prompts promptx.PromptSet) (*toolx.MedicalInfo, error) {
	var backends []toolx.Answerer
	if cfg.Enabled() {
		client, err := aresx.New(cfg)
		if err != nil {
			return nil, fmt.Errorf("build ares client: %w", err)
		}
		backends = append(backends, toolx.NewAresAnswerer(client))
	}
	backends = append(backends, toolx.NewProviderAnswerer(provider, prompts))
	return toolx.NewMedicalInfo(backends...)
}
