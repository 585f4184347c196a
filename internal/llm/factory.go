package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/ignite/audience-crm/internal/config"
	"github.com/ignite/audience-crm/internal/metrics"
	"github.com/ignite/audience-crm/internal/pkg/logger"
)

// New builds the generator selected by cfg.Provider, wrapped with metrics
// and the configured per-call timeout. A missing credential is an error;
// the server treats it as fatal at startup.
func New(ctx context.Context, cfg config.LLMConfig, m *metrics.Metrics) (Generator, error) {
	var (
		gen Generator
		err error
	)

	switch cfg.Provider {
	case ProviderGemini, "":
		gen, err = NewGemini(ctx, cfg.APIKey, cfg.Model)
	case ProviderBedrock:
		gen, err = NewBedrock(ctx, cfg.Region, cfg.Model)
	case ProviderOpenAI:
		gen, err = NewOpenAI(cfg.APIKey, cfg.BaseURL, cfg.Model, cfg.Timeout(), cfg.MaxRetries)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, cfg.Provider)
	}
	if err != nil {
		return nil, err
	}

	provider := cfg.Provider
	if provider == "" {
		provider = ProviderGemini
	}
	logger.Info("llm: generator ready", "provider", provider, "model", cfg.Model)
	return Instrument(gen, provider, cfg.Timeout(), m), nil
}

// instrumented decorates a Generator with a deadline, metrics and logging.
type instrumented struct {
	next     Generator
	provider string
	timeout  time.Duration
	metrics  *metrics.Metrics
}

// Instrument wraps next. A zero timeout leaves the caller's deadline alone;
// m may be nil.
func Instrument(next Generator, provider string, timeout time.Duration, m *metrics.Metrics) Generator {
	return &instrumented{next: next, provider: provider, timeout: timeout, metrics: m}
}

func (i *instrumented) Generate(ctx context.Context, req Request) (string, error) {
	if i.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, i.timeout)
		defer cancel()
	}

	start := time.Now()
	out, err := i.next.Generate(ctx, req)
	elapsed := time.Since(start)

	op := req.Operation
	if op == "" {
		op = "generate"
	}
	i.metrics.ObserveLLM(i.provider, op, err, elapsed)
	if err != nil {
		logger.Warn("llm: generation failed", "provider", i.provider, "operation", op,
			"duration_ms", elapsed.Milliseconds(), "error", err)
		return "", err
	}
	logger.Debug("llm: generation complete", "provider", i.provider, "operation", op,
		"duration_ms", elapsed.Milliseconds(), "chars", len(out))
	return out, nil
}
