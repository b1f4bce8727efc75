package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/mbellotti/aura/internal/config"
	"github.com/mbellotti/aura/internal/gateway"
	"github.com/mbellotti/aura/internal/httpapi"
	"github.com/mbellotti/aura/internal/observability"
	"github.com/mbellotti/aura/internal/session"
	"github.com/mbellotti/aura/internal/speech"
	"github.com/mbellotti/aura/internal/transcript"
)

type BuildResult struct {
	Config   config.Config
	API      *httpapi.Server
	Sessions *session.Manager
	Bridge   *gateway.Bridge
	Metrics  *observability.Metrics

	// Cleanup should be called on shutdown to release external
	// resources (DB pool, etc).
	Cleanup func() error
}

func Build(ctx context.Context, cfg config.Config) (*BuildResult, error) {
	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	store, err := transcript.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("transcript store init failed: %w", err)
	}

	var synth *speech.Synthesizer
	if strings.TrimSpace(cfg.SpeechEndpoint) != "" && strings.TrimSpace(cfg.SpeechAPIKey) != "" {
		synth, err = speech.NewSynthesizer(speech.SynthesizerConfig{
			Endpoint: cfg.SpeechEndpoint,
			APIKey:   cfg.SpeechAPIKey,
		})
		if err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("synthesizer init failed: %w", err)
		}
	}

	sessions := session.NewManager(cfg.ConversationInactivityTimeout)
	sessions.SetExpireHook(func(_ *session.Conversation) {
		metrics.SessionEvents.WithLabelValues("expired").Inc()
		metrics.ActiveConversations.Set(float64(sessions.ActiveCount()))
	})

	bridge := gateway.New(cfg, sessions, store, synth, metrics)
	api := httpapi.New(cfg, sessions, bridge, store, metrics)

	return &BuildResult{
		Config:   cfg,
		API:      api,
		Sessions: sessions,
		Bridge:   bridge,
		Metrics:  metrics,
		Cleanup:  store.Close,
	}, nil
}
