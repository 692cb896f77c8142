package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

type ProviderConfig struct {
	BaseURL   string `json:"base_url"`
	Model     string `json:"model"`
	APIKey    string `json:"api_key"`
	TimeoutMS int    `json:"timeout_ms"`
}

type RuntimeConfig struct {
	Stream            bool    `json:"stream"`
	StripReasoning    bool    `json:"strip_reasoning"`
	Temperature       float64 `json:"temperature"`
	MaxTokens         int     `json:"max_tokens"`
	MaxRetries        int     `json:"max_retries"`
	RetryBackoffMS    int     `json:"retry_backoff_ms"`
	ContextTokenLimit int     `json:"context_token_limit"`
	SystemPrompt      string  `json:"system_prompt"`
}

// InstrumentProvider 描述一个 instrument 标签对应的后端
// InstrumentProvider binds one roster label to a concrete backend.
type InstrumentProvider struct {
	Kind      string `json:"kind"` // openai | anthropic | gemini
	BaseURL   string `json:"base_url"`
	Model     string `json:"model"`
	APIKey    string `json:"api_key"`
	TimeoutMS int    `json:"timeout_ms"`
}

type InstrumentConfig struct {
	Automation     bool                          `json:"automation"`
	Roster         []string                      `json:"roster"`
	Default        string                        `json:"default"`
	Anonymize      bool                          `json:"anonymize"`
	RedactNames    []string                      `json:"redact_names"`
	ScoreThreshold float64                       `json:"score_threshold"`
	Scorer         string                        `json:"scorer"` // heuristic | backend
	PollMS         int                           `json:"poll_ms"`
	WaitTimeoutMS  int                           `json:"wait_timeout_ms"`
	Providers      map[string]InstrumentProvider `json:"providers"`
}

type PrivacyConfig struct {
	Sanitize bool `json:"sanitize"`
}

type StorageConfig struct {
	BaseDir string `json:"base_dir"`
}

type DeveloperConfig struct {
	Passphrase       string `json:"passphrase"`
	ShellTimeoutMS   int    `json:"shell_timeout_ms"`
	OutputLimitBytes int    `json:"output_limit_bytes"`
}

type LoggingConfig struct {
	Level string `json:"level"`
	File  string `json:"file"`
}

// Config 是启动时构造、显式传递给各组件的完整配置
// Config is built once at startup and handed explicitly to each component.
type Config struct {
	Provider   ProviderConfig   `json:"provider"`
	Runtime    RuntimeConfig    `json:"runtime"`
	Instrument InstrumentConfig `json:"instrument"`
	Privacy    PrivacyConfig    `json:"privacy"`
	Storage    StorageConfig    `json:"storage"`
	Developer  DeveloperConfig  `json:"developer"`
	Logging    LoggingConfig    `json:"logging"`
}

type fileRuntimeConfig struct {
	Stream            *bool    `json:"stream"`
	StripReasoning    *bool    `json:"strip_reasoning"`
	Temperature       *float64 `json:"temperature"`
	MaxTokens         *int     `json:"max_tokens"`
	MaxRetries        *int     `json:"max_retries"`
	RetryBackoffMS    *int     `json:"retry_backoff_ms"`
	ContextTokenLimit *int     `json:"context_token_limit"`
	SystemPrompt      *string  `json:"system_prompt"`
}

type fileInstrumentConfig struct {
	Automation     *bool                         `json:"automation"`
	Roster         *[]string                     `json:"roster"`
	Default        *string                       `json:"default"`
	Anonymize      *bool                         `json:"anonymize"`
	RedactNames    *[]string                     `json:"redact_names"`
	ScoreThreshold *float64                      `json:"score_threshold"`
	Scorer         *string                       `json:"scorer"`
	PollMS         *int                          `json:"poll_ms"`
	WaitTimeoutMS  *int                          `json:"wait_timeout_ms"`
	Providers      map[string]InstrumentProvider `json:"providers"`
}

type filePrivacyConfig struct {
	Sanitize *bool `json:"sanitize"`
}

type fileConfig struct {
	Provider   *ProviderConfig       `json:"provider"`
	Runtime    *fileRuntimeConfig    `json:"runtime"`
	Instrument *fileInstrumentConfig `json:"instrument"`
	Privacy    *filePrivacyConfig    `json:"privacy"`
	Storage    *StorageConfig        `json:"storage"`
	Developer  *DeveloperConfig      `json:"developer"`
	Logging    *LoggingConfig        `json:"logging"`
}

func Default() Config {
	return Config{
		Provider: ProviderConfig{
			BaseURL:   DefaultProviderBaseURL,
			Model:     DefaultProviderModel,
			TimeoutMS: DefaultProviderTimeoutMS,
		},
		Runtime: RuntimeConfig{
			Stream:            true,
			StripReasoning:    true,
			Temperature:       0.7,
			MaxRetries:        DefaultRuntimeMaxRetries,
			RetryBackoffMS:    DefaultRuntimeRetryBackoffMS,
			ContextTokenLimit: DefaultRuntimeContextTokenLimit,
		},
		Instrument: InstrumentConfig{
			Roster:         append([]string(nil), DefaultRoster...),
			ScoreThreshold: DefaultScoreThreshold,
			Scorer:         ScorerHeuristic,
			PollMS:         DefaultInstrumentPollMS,
			WaitTimeoutMS:  DefaultInstrumentWaitTimeoutMS,
		},
		Privacy: PrivacyConfig{Sanitize: false},
		Storage: StorageConfig{BaseDir: "~/.nox"},
		Developer: DeveloperConfig{
			ShellTimeoutMS:   DefaultShellTimeoutMS,
			OutputLimitBytes: DefaultShellOutputLimitBytes,
		},
		Logging: LoggingConfig{Level: "info"},
	}
}

// Load 按优先级合并配置：默认值 < 全局 ~/.nox/config.json < 项目配置 < 环境变量
// Load merges configuration: defaults < global ~/.nox/config.json < project
// file < environment. path, when set, names the project file.
func Load(path string) (Config, error) {
	cfg := Default()

	for _, globalPath := range globalConfigPaths() {
		if err := mergeFromFile(&cfg, globalPath); err != nil {
			return Config{}, err
		}
	}

	resolvedPath := strings.TrimSpace(path)
	if resolvedPath == "" {
		resolvedPath = strings.TrimSpace(os.Getenv("NOX_CONFIG"))
	}
	if resolvedPath == "" {
		resolvedPath = findProjectConfigPath()
	}
	if err := mergeFromFile(&cfg, resolvedPath); err != nil {
		return Config{}, err
	}

	cfg, err := applyEnv(cfg)
	if err != nil {
		return Config{}, err
	}
	if err := normalize(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func globalConfigPaths() []string {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil
	}
	return []string{filepath.Join(home, ".nox", "config.json")}
}

func findProjectConfigPath() string {
	candidates := []string{
		"nox.config.json",
		".nox/config.json",
	}
	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c
		}
	}
	return ""
}

func mergeFromFile(cfg *Config, path string) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil
	}

	resolved, err := expandPath(path)
	if err != nil {
		return fmt.Errorf("expand config path %q: %w", path, err)
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read config %q: %w", resolved, err)
	}

	var fileCfg fileConfig
	if err := json.Unmarshal(stripJSONComments(data), &fileCfg); err != nil {
		return fmt.Errorf("parse config %q: %w", resolved, err)
	}
	applyFileConfig(cfg, fileCfg)
	return nil
}

func applyFileConfig(cfg *Config, fc fileConfig) {
	if fc.Provider != nil {
		cfg.Provider = mergeProvider(cfg.Provider, *fc.Provider)
	}
	if fc.Runtime != nil {
		mergeRuntime(&cfg.Runtime, *fc.Runtime)
	}
	if fc.Instrument != nil {
		mergeInstrument(&cfg.Instrument, *fc.Instrument)
	}
	if fc.Privacy != nil && fc.Privacy.Sanitize != nil {
		cfg.Privacy.Sanitize = *fc.Privacy.Sanitize
	}
	if fc.Storage != nil && strings.TrimSpace(fc.Storage.BaseDir) != "" {
		cfg.Storage.BaseDir = fc.Storage.BaseDir
	}
	if fc.Developer != nil {
		cfg.Developer = mergeDeveloper(cfg.Developer, *fc.Developer)
	}
	if fc.Logging != nil {
		if strings.TrimSpace(fc.Logging.Level) != "" {
			cfg.Logging.Level = fc.Logging.Level
		}
		if strings.TrimSpace(fc.Logging.File) != "" {
			cfg.Logging.File = fc.Logging.File
		}
	}
}

func mergeProvider(base ProviderConfig, override ProviderConfig) ProviderConfig {
	if strings.TrimSpace(override.BaseURL) != "" {
		base.BaseURL = override.BaseURL
	}
	if strings.TrimSpace(override.Model) != "" {
		base.Model = override.Model
	}
	if strings.TrimSpace(override.APIKey) != "" {
		base.APIKey = override.APIKey
	}
	if override.TimeoutMS > 0 {
		base.TimeoutMS = override.TimeoutMS
	}
	return base
}

func mergeRuntime(base *RuntimeConfig, fc fileRuntimeConfig) {
	if fc.Stream != nil {
		base.Stream = *fc.Stream
	}
	if fc.StripReasoning != nil {
		base.StripReasoning = *fc.StripReasoning
	}
	if fc.Temperature != nil {
		base.Temperature = *fc.Temperature
	}
	if fc.MaxTokens != nil {
		base.MaxTokens = *fc.MaxTokens
	}
	if fc.MaxRetries != nil {
		base.MaxRetries = *fc.MaxRetries
	}
	if fc.RetryBackoffMS != nil {
		base.RetryBackoffMS = *fc.RetryBackoffMS
	}
	if fc.ContextTokenLimit != nil {
		base.ContextTokenLimit = *fc.ContextTokenLimit
	}
	if fc.SystemPrompt != nil {
		base.SystemPrompt = *fc.SystemPrompt
	}
}

func mergeInstrument(base *InstrumentConfig, fc fileInstrumentConfig) {
	if fc.Automation != nil {
		base.Automation = *fc.Automation
	}
	if fc.Roster != nil {
		// An explicit empty roster disables the built-in one.
		base.Roster = append([]string{}, (*fc.Roster)...)
	}
	if fc.Default != nil {
		base.Default = *fc.Default
	}
	if fc.Anonymize != nil {
		base.Anonymize = *fc.Anonymize
	}
	if fc.RedactNames != nil {
		base.RedactNames = append([]string(nil), (*fc.RedactNames)...)
	}
	if fc.ScoreThreshold != nil {
		base.ScoreThreshold = *fc.ScoreThreshold
	}
	if fc.Scorer != nil {
		base.Scorer = *fc.Scorer
	}
	if fc.PollMS != nil {
		base.PollMS = *fc.PollMS
	}
	if fc.WaitTimeoutMS != nil {
		base.WaitTimeoutMS = *fc.WaitTimeoutMS
	}
	if len(fc.Providers) > 0 {
		if base.Providers == nil {
			base.Providers = map[string]InstrumentProvider{}
		}
		for label, p := range fc.Providers {
			base.Providers[label] = p
		}
	}
}

func mergeDeveloper(base DeveloperConfig, override DeveloperConfig) DeveloperConfig {
	if strings.TrimSpace(override.Passphrase) != "" {
		base.Passphrase = override.Passphrase
	}
	if override.ShellTimeoutMS > 0 {
		base.ShellTimeoutMS = override.ShellTimeoutMS
	}
	if override.OutputLimitBytes > 0 {
		base.OutputLimitBytes = override.OutputLimitBytes
	}
	return base
}

func normalize(cfg *Config) error {
	def := Default()
	cfg.Provider.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.Provider.BaseURL), "/")
	if cfg.Provider.BaseURL == "" {
		cfg.Provider.BaseURL = def.Provider.BaseURL
	}
	if strings.TrimSpace(cfg.Provider.Model) == "" {
		cfg.Provider.Model = def.Provider.Model
	}
	if cfg.Provider.TimeoutMS <= 0 {
		cfg.Provider.TimeoutMS = def.Provider.TimeoutMS
	}

	if cfg.Runtime.MaxRetries < 0 {
		cfg.Runtime.MaxRetries = 0
	}
	if cfg.Runtime.RetryBackoffMS <= 0 {
		cfg.Runtime.RetryBackoffMS = def.Runtime.RetryBackoffMS
	}
	if cfg.Runtime.ContextTokenLimit <= 0 {
		cfg.Runtime.ContextTokenLimit = def.Runtime.ContextTokenLimit
	}
	if cfg.Runtime.Temperature < 0 || cfg.Runtime.Temperature > 2 {
		return fmt.Errorf("runtime.temperature must be within [0, 2], got %v", cfg.Runtime.Temperature)
	}

	in := &cfg.Instrument
	in.Roster = normalizeLabels(in.Roster)
	in.RedactNames = normalizeLabels(in.RedactNames)
	in.Default = strings.TrimSpace(in.Default)
	if in.ScoreThreshold < 0 || in.ScoreThreshold > 1 {
		return fmt.Errorf("instrument.score_threshold must be within [0, 1], got %v", in.ScoreThreshold)
	}
	in.Scorer = strings.ToLower(strings.TrimSpace(in.Scorer))
	switch in.Scorer {
	case "":
		in.Scorer = ScorerHeuristic
	case ScorerHeuristic, ScorerBackend:
	default:
		return fmt.Errorf("instrument.scorer must be %q or %q, got %q", ScorerHeuristic, ScorerBackend, in.Scorer)
	}
	if in.PollMS <= 0 {
		in.PollMS = def.Instrument.PollMS
	}
	if in.WaitTimeoutMS < 0 {
		in.WaitTimeoutMS = 0
	}
	for label, p := range in.Providers {
		p.Kind = strings.ToLower(strings.TrimSpace(p.Kind))
		switch p.Kind {
		case "":
			p.Kind = InstrumentKindOpenAI
		case InstrumentKindOpenAI, InstrumentKindAnthropic, InstrumentKindGemini:
		default:
			return fmt.Errorf("instrument.providers.%s.kind %q is not supported", label, p.Kind)
		}
		in.Providers[label] = p
	}

	base, err := expandPath(cfg.Storage.BaseDir)
	if err != nil {
		return fmt.Errorf("expand storage.base_dir: %w", err)
	}
	if base == "" {
		if base, err = expandPath(def.Storage.BaseDir); err != nil {
			return fmt.Errorf("expand storage.base_dir: %w", err)
		}
	}
	cfg.Storage.BaseDir = base

	if cfg.Logging.File != "" {
		if cfg.Logging.File, err = expandPath(cfg.Logging.File); err != nil {
			return fmt.Errorf("expand logging.file: %w", err)
		}
	}
	cfg.Logging.Level = strings.ToLower(strings.TrimSpace(cfg.Logging.Level))
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = def.Logging.Level
	}
	if cfg.Developer.ShellTimeoutMS <= 0 {
		cfg.Developer.ShellTimeoutMS = def.Developer.ShellTimeoutMS
	}
	if cfg.Developer.OutputLimitBytes <= 0 {
		cfg.Developer.OutputLimitBytes = def.Developer.OutputLimitBytes
	}
	return nil
}

// applyEnv 环境变量覆盖文件配置
// applyEnv lets the environment override everything loaded from files.
func applyEnv(cfg Config) (Config, error) {
	if v := strings.TrimSpace(os.Getenv("NOX_LLM_URL")); v != "" {
		cfg.Provider.BaseURL = v
	}
	if v := strings.TrimSpace(os.Getenv("NOX_LLM_MODEL")); v != "" {
		cfg.Provider.Model = v
	}
	if v := strings.TrimSpace(os.Getenv("NOX_LLM_API_KEY")); v != "" {
		cfg.Provider.APIKey = v
	} else if v := strings.TrimSpace(os.Getenv("OPENAI_API_KEY")); v != "" && cfg.Provider.APIKey == "" {
		cfg.Provider.APIKey = v
	}
	if v, ok := os.LookupEnv("NOX_INSTRUMENTS"); ok {
		cfg.Instrument.Roster = splitList(v)
	}
	if v := strings.TrimSpace(os.Getenv("NOX_INSTRUMENT_AUTOMATION")); v != "" {
		b, err := parseBool(v)
		if err != nil {
			return Config{}, fmt.Errorf("NOX_INSTRUMENT_AUTOMATION: %w", err)
		}
		cfg.Instrument.Automation = b
	}
	if v := strings.TrimSpace(os.Getenv("NOX_INSTRUMENT_ANONYMIZE")); v != "" {
		b, err := parseBool(v)
		if err != nil {
			return Config{}, fmt.Errorf("NOX_INSTRUMENT_ANONYMIZE: %w", err)
		}
		cfg.Instrument.Anonymize = b
	}
	if v, ok := os.LookupEnv("NOX_REDACT_NAMES"); ok {
		cfg.Instrument.RedactNames = splitList(v)
	}
	if v := strings.TrimSpace(os.Getenv("NOX_SCORE_THRESHOLD")); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return Config{}, fmt.Errorf("NOX_SCORE_THRESHOLD: %w", err)
		}
		cfg.Instrument.ScoreThreshold = f
	}
	if v := strings.TrimSpace(os.Getenv("NOX_HOME")); v != "" {
		cfg.Storage.BaseDir = v
	}
	if v := strings.TrimSpace(os.Getenv("NOX_DEV_PASSPHRASE")); v != "" {
		cfg.Developer.Passphrase = v
	}
	if v := strings.TrimSpace(os.Getenv("NOX_LOG_LEVEL")); v != "" {
		cfg.Logging.Level = v
	}
	return cfg, nil
}

func parseBool(v string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true, nil
	case "0", "false", "no", "off":
		return false, nil
	}
	return false, fmt.Errorf("invalid boolean %q", v)
}

func splitList(v string) []string {
	return normalizeLabels(strings.FieldsFunc(v, func(r rune) bool { return r == ',' || r == ';' }))
}

// normalizeLabels trims, drops empties and dedupes case-insensitively,
// keeping the first spelling.
func normalizeLabels(items []string) []string {
	out := make([]string, 0, len(items))
	seen := map[string]struct{}{}
	for _, item := range items {
		trimmed := strings.TrimSpace(item)
		if trimmed == "" {
			continue
		}
		key := strings.ToLower(trimmed)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, trimmed)
	}
	return out
}

func expandPath(path string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return "", nil
	}
	if strings.HasPrefix(path, "~/") || path == "~" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home dir: %w", err)
		}
		if path == "~" {
			path = home
		} else {
			path = filepath.Join(home, strings.TrimPrefix(path, "~/"))
		}
	}
	return filepath.Abs(path)
}

func stripJSONComments(data []byte) []byte {
	const (
		stateNormal = iota
		stateString
		stateLineComment
		stateBlockComment
	)

	state := stateNormal
	escaped := false
	out := bytes.Buffer{}

	for i := 0; i < len(data); i++ {
		c := data[i]
		next := byte(0)
		if i+1 < len(data) {
			next = data[i+1]
		}

		switch state {
		case stateNormal:
			if c == '"' {
				state = stateString
				out.WriteByte(c)
				continue
			}
			if c == '/' && next == '/' {
				state = stateLineComment
				i++
				continue
			}
			if c == '/' && next == '*' {
				state = stateBlockComment
				i++
				continue
			}
			out.WriteByte(c)
		case stateString:
			out.WriteByte(c)
			if escaped {
				escaped = false
				continue
			}
			if c == '\\' {
				escaped = true
				continue
			}
			if c == '"' {
				state = stateNormal
			}
		case stateLineComment:
			if c == '\n' {
				state = stateNormal
				out.WriteByte(c)
			}
		case stateBlockComment:
			if c == '*' && next == '/' {
				state = stateNormal
				i++
			}
		}
	}

	return out.Bytes()
}
