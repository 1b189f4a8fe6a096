package application

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/rajfnu/answer-sheet-marker-sub000/infrastructure/agents"
	"github.com/rajfnu/answer-sheet-marker-sub000/infrastructure/ledger"
	"github.com/rajfnu/answer-sheet-marker-sub000/infrastructure/llm"
	"github.com/rajfnu/answer-sheet-marker-sub000/internal/domain"
	"github.com/rajfnu/answer-sheet-marker-sub000/internal/ports"
)

// EnvPrefix prefixes every environment override, e.g. MARKER_PROVIDER_MODEL_ID.
const EnvPrefix = "MARKER"

// Cache backends.
const (
	CacheBackendFile   = "file"
	CacheBackendRedis  = "redis"
	CacheBackendMemory = "memory"
)

// Config is the complete marker configuration. It is read from YAML,
// overlaid with MARKER_* environment variables and validated by LoadConfig.
type Config struct {
	// Provider is the model used for evaluation and feedback.
	Provider ports.ProviderConfig `yaml:"provider" mapstructure:"provider"`
	// AnalysisProvider optionally routes question analysis to a second
	// model. It is ignored while its provider name is empty.
	AnalysisProvider ports.ProviderConfig `yaml:"analysis_provider" mapstructure:"analysis_provider" validate:"-"`

	Marking        MarkingConfig        `yaml:"marking" mapstructure:"marking"`
	Concurrency    ConcurrencyConfig    `yaml:"concurrency" mapstructure:"concurrency"`
	Retry          RetryConfig          `yaml:"retry" mapstructure:"retry"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker" mapstructure:"circuit_breaker"`
	Cache          CacheConfig          `yaml:"cache" mapstructure:"cache"`
	Ledger         LedgerConfig         `yaml:"ledger" mapstructure:"ledger"`
	Events         EventsConfig         `yaml:"events" mapstructure:"events"`
	Logging        LoggingConfig        `yaml:"logging" mapstructure:"logging"`
}

// MarkingConfig holds the grading policy.
type MarkingConfig struct {
	// ConfidenceThreshold sends evaluations below it to human review.
	ConfidenceThreshold float64 `yaml:"confidence_threshold" mapstructure:"confidence_threshold" validate:"gte=0,lte=1"`
	// PassPercentage is the lowest passing percentage.
	PassPercentage float64 `yaml:"pass_percentage" mapstructure:"pass_percentage" validate:"gte=0,lte=100"`
	// Strictness is clamp or flag; see agents.Strictness.
	Strictness string `yaml:"strictness" mapstructure:"strictness" validate:"oneof=clamp flag"`
	// GradeScale replaces the default A to F bands when set.
	GradeScale       []domain.GradeBand `yaml:"grade_scale" mapstructure:"grade_scale" validate:"omitempty,dive"`
	FallbackFeedback string             `yaml:"fallback_feedback" mapstructure:"fallback_feedback"`
	// EvidenceSimilarity is the minimum similarity between a cited quote
	// and the answer text. Zero disables the check.
	EvidenceSimilarity float64 `yaml:"evidence_similarity" mapstructure:"evidence_similarity" validate:"gte=0,lte=1"`
}

// ConcurrencyConfig bounds provider load.
type ConcurrencyConfig struct {
	MaxConcurrentCalls    int     `yaml:"max_concurrent_calls" mapstructure:"max_concurrent_calls" validate:"min=1,max=256"`
	RequestTimeoutSeconds int     `yaml:"request_timeout_seconds" mapstructure:"request_timeout_seconds" validate:"min=1,max=3600"`
	RateLimitPerSecond    float64 `yaml:"rate_limit_per_second" mapstructure:"rate_limit_per_second" validate:"gte=0"`
	RateBurst             int     `yaml:"rate_burst" mapstructure:"rate_burst" validate:"gte=0"`
}

// RetryConfig configures retries of transient provider errors.
type RetryConfig struct {
	MaxAttempts   int `yaml:"max_attempts" mapstructure:"max_attempts" validate:"min=0,max=10"`
	InitialWaitMs int `yaml:"initial_wait_ms" mapstructure:"initial_wait_ms" validate:"min=0,max=60000"`
	MaxWaitMs     int `yaml:"max_wait_ms" mapstructure:"max_wait_ms" validate:"min=0,max=300000"`
}

// CircuitBreakerConfig configures the per-client breaker. Zero failures
// disables it.
type CircuitBreakerConfig struct {
	MaxFailures     int `yaml:"max_failures" mapstructure:"max_failures" validate:"min=0"`
	CooldownSeconds int `yaml:"cooldown_seconds" mapstructure:"cooldown_seconds" validate:"min=0"`
}

// CacheConfig selects the content cache backend.
type CacheConfig struct {
	Backend  string `yaml:"backend" mapstructure:"backend" validate:"oneof=file redis memory"`
	Dir      string `yaml:"dir" mapstructure:"dir"`
	RedisURL string `yaml:"redis_url" mapstructure:"redis_url"`
}

// LedgerConfig selects the usage ledger store and prices.
type LedgerConfig struct {
	Driver string `yaml:"driver" mapstructure:"driver" validate:"oneof=memory sqlite postgres"`
	DSN    string `yaml:"dsn" mapstructure:"dsn"`
	// DefaultRate prices models missing from the pricing table.
	DefaultRate ledger.Rate `yaml:"default_rate" mapstructure:"default_rate"`
	// Pricing overrides the built-in per-model rates.
	Pricing     map[string]ledger.Rate `yaml:"pricing" mapstructure:"pricing" validate:"omitempty,dive"`
	PricingFile string                 `yaml:"pricing_file" mapstructure:"pricing_file"`
}

// EventsConfig enables NATS event publication when NATSURL is set.
type EventsConfig struct {
	NATSURL       string `yaml:"nats_url" mapstructure:"nats_url"`
	SubjectPrefix string `yaml:"subject_prefix" mapstructure:"subject_prefix"`
}

// LoggingConfig configures internal/logging.
type LoggingConfig struct {
	Level  string `yaml:"level" mapstructure:"level" validate:"omitempty,oneof=trace debug info warn error"`
	Format string `yaml:"format" mapstructure:"format" validate:"omitempty,oneof=json console"`
}

// DefaultConfig returns the configuration used for anything a file or the
// environment leaves unset.
func DefaultConfig() Config {
	return Config{
		Provider: ports.ProviderConfig{Provider: "openai"},
		Marking: MarkingConfig{
			ConfidenceThreshold: agents.DefaultConfidenceThreshold,
			PassPercentage:      agents.DefaultPassPercentage,
			Strictness:          string(agents.StrictnessClamp),
			FallbackFeedback:    agents.DefaultFallbackFeedback,
			EvidenceSimilarity:  agents.DefaultEvidenceSimilarity,
		},
		Concurrency: ConcurrencyConfig{
			MaxConcurrentCalls:    agents.DefaultMaxConcurrency,
			RequestTimeoutSeconds: 60,
		},
		Retry: RetryConfig{
			MaxAttempts:   3,
			InitialWaitMs: 500,
			MaxWaitMs:     10000,
		},
		CircuitBreaker: CircuitBreakerConfig{
			MaxFailures:     5,
			CooldownSeconds: 30,
		},
		Cache: CacheConfig{
			Backend: CacheBackendFile,
			Dir:     "data",
		},
		Ledger: LedgerConfig{
			Driver: ledger.DriverMemory,
		},
		Events: EventsConfig{
			SubjectPrefix: "marker",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// RequestTimeout returns the per-call provider timeout.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.Concurrency.RequestTimeoutSeconds) * time.Second
}

// GradeScale builds the configured grade scale.
func (c Config) GradeScale() (domain.GradeScale, error) {
	if len(c.Marking.GradeScale) == 0 {
		return domain.NewGradeScale(domain.DefaultGradeBands())
	}
	return domain.NewGradeScale(c.Marking.GradeScale)
}

// HasAnalysisProvider reports whether question analysis uses its own model.
func (c Config) HasAnalysisProvider() bool {
	return c.AnalysisProvider.Provider != ""
}

// LoadOptions controls where LoadConfig looks.
type LoadOptions struct {
	// DotEnv files to load before reading the environment. Missing files
	// are skipped. Defaults to ".env".
	DotEnv []string
	// Getenv overrides environment lookups, mainly for tests.
	Getenv func(string) string
}

// LoadConfig reads path (optional), loads .env files, overlays MARKER_*
// environment variables and validates the result. Configuration errors are
// returned as *ports.ConfigError and are fatal at startup.
func LoadConfig(path string, opts LoadOptions) (Config, error) {
	if opts.DotEnv == nil {
		opts.DotEnv = []string{".env"}
	}
	for _, f := range opts.DotEnv {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, ports.NewConfigError("dotenv", fmt.Errorf("failed to load %s: %w", f, err))
		}
	}

	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(filepath.Clean(path))
		if err != nil {
			return Config{}, ports.NewConfigError("config", fmt.Errorf("%w: %s", ports.ErrConfigNotFound, path))
		}
		if cfg, err = parseConfigYAML(data); err != nil {
			return Config{}, ports.NewConfigError("config", err)
		}
		cfg.resolvePaths(filepath.Dir(path))
	}

	cfg, err := overlayEnv(cfg, opts.Getenv)
	if err != nil {
		return Config{}, ports.NewConfigError("env", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// parseConfigYAML decodes data over the defaults. Unknown keys are
// rejected so typos do not silently fall back to defaults.
func parseConfigYAML(data []byte) (Config, error) {
	cfg := DefaultConfig()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

// resolvePaths makes relative file locations relative to the config file.
func (c *Config) resolvePaths(base string) {
	resolve := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(base, p)
	}
	c.Cache.Dir = resolve(c.Cache.Dir)
	c.Ledger.PricingFile = resolve(c.Ledger.PricingFile)
	if c.Ledger.Driver == ledger.DriverSQLite {
		c.Ledger.DSN = resolve(c.Ledger.DSN)
	}
}

// overlayEnv feeds cfg to viper as the base layer so that every key it
// knows can be overridden by MARKER_SECTION_KEY, then decodes it back.
// Grade bands and pricing are file-only: model ids contain dots, which
// viper would read as key paths.
func overlayEnv(cfg Config, getenv func(string) string) (Config, error) {
	bands, pricing := cfg.Marking.GradeScale, cfg.Ledger.Pricing
	cfg.Marking.GradeScale, cfg.Ledger.Pricing = nil, nil

	base, err := yaml.Marshal(cfg)
	if err != nil {
		return Config{}, fmt.Errorf("failed to encode config: %w", err)
	}

	v := viper.New()
	v.SetConfigType("yaml")
	if err := v.ReadConfig(bytes.NewReader(base)); err != nil {
		return Config{}, fmt.Errorf("failed to load config: %w", err)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if getenv == nil {
		v.AutomaticEnv()
	} else {
		for _, key := range v.AllKeys() {
			name := EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
			if val := getenv(name); val != "" {
				v.Set(key, val)
			}
		}
	}

	var out Config
	if err := v.Unmarshal(&out); err != nil {
		return Config{}, fmt.Errorf("failed to apply environment: %w", err)
	}
	out.Marking.GradeScale, out.Ledger.Pricing = bands, pricing
	return out, nil
}

var configValidator = newConfigValidator()

func newConfigValidator() *validator.Validate {
	v := validator.New()
	if err := v.RegisterValidation("provider", validateProviderName); err != nil {
		panic(fmt.Sprintf("register provider validator: %v", err))
	}
	return v
}

// validateProviderName accepts built-in vendors and any name registered
// through llm.RegisterProviderFactory.
func validateProviderName(fl validator.FieldLevel) bool {
	name := fl.Field().String()
	if _, ok := llm.DefaultProviders[name]; ok {
		return true
	}
	_, ok := llm.GetProviderFactory(name)
	return ok
}

type providerCheck struct {
	Name string `validate:"required,provider"`
}

// Validate fills provider model defaults and checks field constraints plus
// the rules struct tags cannot express.
func (c *Config) Validate() error {
	if err := configValidator.Struct(providerCheck{Name: c.Provider.Provider}); err != nil {
		return ports.NewConfigError("provider.provider", fmt.Errorf("unknown provider %q", c.Provider.Provider))
	}
	applyModelDefault(&c.Provider)
	if err := configValidator.Struct(c); err != nil {
		return ports.NewConfigError(firstField(err), err)
	}

	if c.HasAnalysisProvider() {
		if err := configValidator.Struct(providerCheck{Name: c.AnalysisProvider.Provider}); err != nil {
			return ports.NewConfigError("analysis_provider.provider",
				fmt.Errorf("unknown provider %q", c.AnalysisProvider.Provider))
		}
		applyModelDefault(&c.AnalysisProvider)
		if err := configValidator.Struct(c.AnalysisProvider); err != nil {
			return ports.NewConfigError("analysis_provider", err)
		}
	}

	if _, err := c.GradeScale(); err != nil {
		return ports.NewConfigError("marking.grade_scale", err)
	}

	switch c.Cache.Backend {
	case CacheBackendFile:
		if c.Cache.Dir == "" {
			return ports.NewConfigError("cache.dir", errors.New("file cache requires a directory"))
		}
	case CacheBackendRedis:
		if c.Cache.RedisURL == "" {
			return ports.NewConfigError("cache.redis_url", errors.New("redis cache requires a url"))
		}
	}

	if c.Ledger.Driver != ledger.DriverMemory && c.Ledger.DSN == "" {
		return ports.NewConfigError("ledger.dsn", fmt.Errorf("%s ledger requires a dsn", c.Ledger.Driver))
	}
	if c.Retry.MaxWaitMs > 0 && c.Retry.MaxWaitMs < c.Retry.InitialWaitMs {
		return ports.NewConfigError("retry.max_wait_ms", errors.New("max wait must not be below initial wait"))
	}
	return nil
}

func applyModelDefault(p *ports.ProviderConfig) {
	if p.Model == "" {
		p.Model = llm.DefaultProviders[p.Provider].DefaultModel
	}
}

// firstField names the first failing field for the config error.
func firstField(err error) string {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		return verrs[0].Namespace()
	}
	return "config"
}
