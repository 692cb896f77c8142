package instrument

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"nox/internal/config"
	"nox/internal/logging"
)

// SystemPrompt is sent to every instrument backend.
const SystemPrompt = "You are an instrument consulted by another assistant. Answer the query directly and concisely. Do not ask follow-up questions."

// FromConfig 根据 roster 与 providers 配置构造注册表
// FromConfig builds the registry from the roster. A label with an entry in
// instrument.providers uses that backend; any other label is served by the
// main OpenAI-compatible endpoint with the label as model name. Providers
// configured outside the roster are registered after it.
func FromConfig(cfg config.Config, logger *zap.Logger) (*Registry, error) {
	logger = logging.OrNop(logger)
	reg := NewRegistry()
	providers := map[string]config.InstrumentProvider{}
	for label, p := range cfg.Instrument.Providers {
		providers[key(label)] = p
	}

	add := func(label string, p config.InstrumentProvider) error {
		inv, err := newInvoker(p, cfg.Provider)
		if err != nil {
			return fmt.Errorf("instrument %s: %w", label, err)
		}
		if err := reg.Register(Descriptor{Label: label, Kind: p.Kind, Match: PrefixMatcher(label), Invoke: inv}); err != nil {
			return err
		}
		logger.Debug("instrument registered", zap.String("label", label), zap.String("kind", p.Kind), zap.String("model", p.Model))
		return nil
	}

	for _, label := range cfg.Instrument.Roster {
		p, ok := providers[key(label)]
		if !ok {
			p = config.InstrumentProvider{Kind: config.InstrumentKindOpenAI, Model: label}
		}
		if err := add(label, p); err != nil {
			return nil, err
		}
		delete(providers, key(label))
	}
	for _, k := range sortedKeys(providers) {
		label := k
		for orig := range cfg.Instrument.Providers {
			if key(orig) == k {
				label = strings.TrimSpace(orig)
			}
		}
		if err := add(label, providers[k]); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

func newInvoker(p config.InstrumentProvider, fallback config.ProviderConfig) (Invoker, error) {
	timeout := p.TimeoutMS
	if timeout <= 0 {
		timeout = fallback.TimeoutMS
	}
	switch p.Kind {
	case "", config.InstrumentKindOpenAI:
		baseURL, apiKey := p.BaseURL, p.APIKey
		if strings.TrimSpace(baseURL) == "" {
			baseURL = fallback.BaseURL
			if apiKey == "" {
				apiKey = fallback.APIKey
			}
		}
		model := p.Model
		if strings.TrimSpace(model) == "" {
			model = fallback.Model
		}
		return NewOpenAIInvoker(baseURL, apiKey, model, timeout), nil
	case config.InstrumentKindAnthropic:
		return NewAnthropicInvoker(p.BaseURL, p.APIKey, p.Model, timeout), nil
	case config.InstrumentKindGemini:
		return NewGeminiInvoker(p.BaseURL, p.APIKey, p.Model, timeout), nil
	}
	return nil, fmt.Errorf("unsupported kind %q", p.Kind)
}
