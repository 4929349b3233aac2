package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/kelseyhightower/envconfig"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// Specification is PRISM's layered configuration: defaults < YAML < env <
// flags, matching the teacher's Load precedence exactly.
type Specification struct {
	Provider     string `yaml:"provider"`
	APIKey       string `yaml:"providerApiKey" envconfig:"PROVIDER_API_KEY"`
	EmbedModel   string `yaml:"providerEmbedModel" envconfig:"PROVIDER_EMBEDDING_MODEL"`
	ProjectID    string `yaml:"providerProjectID" envconfig:"PROVIDER_PROJECT_ID"`
	Location     string `yaml:"providerLocation" envconfig:"PROVIDER_LOCATION"`
	Dim          int    `yaml:"providerDim" envconfig:"EMBED_DIM"`

	CloudflareAccountID string `yaml:"cloudflareAccountID" split_words:"true"`
	CloudflareAPIToken  string `yaml:"cloudflareAPIToken" split_words:"true"`

	Database string `yaml:"database" envconfig:"DB_URL"`
	LogLevel string `yaml:"logLevel" split_words:"true"`
	Port     int    `yaml:"port" split_words:"true"`

	Scoring    ScoringSpecification    `yaml:"scoring"`
	Selector   SelectorSpecification   `yaml:"selector"`
	Compressor CompressorSpecification `yaml:"compressor"`
	Optimizer  OptimizerSpecification  `yaml:"optimizer"`
	Embedding  EmbeddingSpecification  `yaml:"embedding"`
	Budget     BudgetSpecification     `yaml:"budget"`
	Auth       AuthSpecification       `yaml:"auth"`

	flags *pflag.FlagSet `ignored:"true"`
}

// ScoringSpecification configures the ScoringService (§4.4).
type ScoringSpecification struct {
	Concurrency int `yaml:"concurrency" split_words:"true"`
	CacheTTLSec int `yaml:"cacheTtlSec" split_words:"true"`
	CacheCap    int `yaml:"cacheCap" split_words:"true"`
}

// SelectorSpecification configures the ChunkSelector (§4.6).
type SelectorSpecification struct {
	DefaultBudgetTokens int `yaml:"defaultBudgetTokens" split_words:"true"`
}

// CompressorSpecification configures the AdaptiveCompressor (§4.7).
type CompressorSpecification struct {
	PreserveImportsDefault bool `yaml:"preserveImportsDefault" split_words:"true"`
}

// OptimizerSpecification configures the TokenOptimizer's budget split (§4.8).
type OptimizerSpecification struct {
	ResponseReservePct float64 `yaml:"responseReservePct" split_words:"true"`
	HistoryPct         float64 `yaml:"historyPct" split_words:"true"`
	SystemPreamblePct  float64 `yaml:"systemPreamblePct" split_words:"true"`
	ConcurrencyCap     int     `yaml:"concurrencyCap" split_words:"true"`
}

// EmbeddingSpecification configures the EmbeddingClient (§4.2).
type EmbeddingSpecification struct {
	BatchSize          int `yaml:"batchSize" split_words:"true"`
	MaxTextLength      int `yaml:"maxTextLength" split_words:"true"`
	MaxBatchItems      int `yaml:"maxBatchItems" split_words:"true"`
	InterBatchDelayMs  int `yaml:"interBatchDelayMs" split_words:"true"`
}

// BudgetSpecification configures the BudgetTracker (§4.9).
type BudgetSpecification struct {
	DailyNeurons     float64 `yaml:"dailyNeurons" split_words:"true"`
	WarningThreshold float64 `yaml:"warningThreshold" split_words:"true"`
}

type AuthSpecification struct {
	Enabled            bool   `yaml:"enabled"`
	JwtSecret          string `yaml:"jwtSecret" split_words:"true"`
	GithubClientID     string `yaml:"githubClientID" split_words:"true"`
	GithubClientSecret string `yaml:"githubClientSecret" split_words:"true"`
	GithubRedirectURL  string `yaml:"githubRedirectURL" split_words:"true"`
	GithubAllowedOrg   string `yaml:"githubAllowedOrg" split_words:"true"`
}

const envPrefix = "PRISM"

func (s *Specification) Usage() {
	fmt.Fprint(os.Stderr, s.flags.FlagUsages())
}

// Load applies defaults < YAML < env < flags, in that order. configPath may
// be "", in which case a config file is auto-discovered.
func Load(configPath string, fs *pflag.FlagSet) (Specification, error) {
	var cfg Specification

	setDefaults(&cfg)
	bindFlags(fs, &cfg)

	path := configPath
	if path == "" {
		if v := os.Getenv(envPrefix + "_CONFIG"); v != "" {
			path = v
		} else {
			for _, cand := range []string{"config/prism.yaml", "config/config.yaml", "./prism.yaml", "./config.yaml"} {
				if fileExists(cand) {
					path = cand
					break
				}
			}
		}
	}

	if path != "" {
		if !fileExists(path) {
			return Specification{}, fmt.Errorf("config file not found: %s", path)
		}
		if err := loadYAML(path, &cfg); err != nil {
			return Specification{}, fmt.Errorf("load yaml %s: %w", path, err)
		}
	}

	if err := envconfig.Process(envPrefix, &cfg); err != nil {
		return Specification{}, fmt.Errorf("env override: %w", err)
	}

	if err := fs.Parse(os.Args[1:]); err != nil {
		return Specification{}, err
	}
	applyChangedFlags(fs, &cfg)

	if strings.TrimSpace(cfg.LogLevel) == "" {
		cfg.LogLevel = "info"
	}
	return cfg, nil
}

// ---------- helpers ----------

func loadYAML(path string, into any) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(b, into)
}

func fileExists(p string) bool {
	fi, err := os.Stat(p)
	return err == nil && !fi.IsDir()
}

func bindFlags(fs *pflag.FlagSet, c *Specification) {
	fs.String("config", "", "Path to config file")

	for i, a := range os.Args {
		if a == "--config" {
			if i+1 < len(os.Args) && !strings.HasPrefix(os.Args[i+1], "-") {
				_ = os.Setenv(envPrefix+"_CONFIG", os.Args[i+1])
			}
		} else if strings.HasPrefix(a, "--config=") {
			parts := strings.SplitN(a, "=", 2)
			if len(parts) == 2 {
				_ = os.Setenv(envPrefix+"_CONFIG", parts[1])
			}
		}
	}

	fs.String("provider", c.Provider, "Embedding provider (genai, cloudflare, local)")
	fs.String("provider-api-key", c.APIKey, "Provider API key")
	fs.String("provider-embedding-model", c.EmbedModel, "Provider embedding model")
	fs.String("provider-project-id", c.ProjectID, "Provider project ID")
	fs.String("provider-location", c.Location, "Provider location/region")
	fs.Int("embed-dim", c.Dim, "Embedding dimensionality")

	fs.String("db-url", c.Database, "Vector store database URL (DSN); empty selects in-memory")
	fs.String("log-level", c.LogLevel, "Log level (debug|info|warn|error)")
	fs.Int("port", c.Port, "API server port")

	fs.Int("scoring-concurrency", c.Scoring.Concurrency, "ScoringService bounded parallelism")
	fs.Int("selector-default-budget", c.Selector.DefaultBudgetTokens, "Default ChunkSelector token budget")
	fs.Float64("optimizer-response-reserve-pct", c.Optimizer.ResponseReservePct, "Fraction of budget reserved for the response")

	fs.Float64("budget-daily-neurons", c.Budget.DailyNeurons, "Daily neuron quota")

	fs.Bool("auth-enabled", c.Auth.Enabled, "Enable GitHub OAuth authentication")
	fs.String("auth-jwt-secret", c.Auth.JwtSecret, "JWT secret for signing tokens")
	fs.String("auth-github-client-id", c.Auth.GithubClientID, "GitHub OAuth App Client ID")
	fs.String("auth-github-client-secret", c.Auth.GithubClientSecret, "GitHub OAuth App Client Secret")
	fs.String("auth-github-redirect-url", c.Auth.GithubRedirectURL, "GitHub OAuth App Redirect URL")
	fs.String("auth-github-allowed-org", c.Auth.GithubAllowedOrg, "Optional: restrict login to a GitHub organization")

	copied := pflag.NewFlagSet("temp", pflag.ContinueOnError)
	*copied = *fs
	c.flags = copied
}

func applyChangedFlags(fs *pflag.FlagSet, c *Specification) {
	setStr := func(name string, dst *string) {
		if fs.Changed(name) {
			v, _ := fs.GetString(name)
			*dst = v
		}
	}
	setInt := func(name string, dst *int) {
		if fs.Changed(name) {
			v, _ := fs.GetInt(name)
			*dst = v
		}
	}
	setFloat := func(name string, dst *float64) {
		if fs.Changed(name) {
			v, _ := fs.GetFloat64(name)
			*dst = v
		}
	}
	setBool := func(name string, dst *bool) {
		if fs.Changed(name) {
			v, _ := fs.GetBool(name)
			*dst = v
		}
	}

	setStr("provider", &c.Provider)
	setStr("provider-api-key", &c.APIKey)
	setStr("provider-embedding-model", &c.EmbedModel)
	setStr("provider-project-id", &c.ProjectID)
	setStr("provider-location", &c.Location)
	setInt("embed-dim", &c.Dim)

	setStr("db-url", &c.Database)
	setStr("log-level", &c.LogLevel)
	setInt("port", &c.Port)

	setInt("scoring-concurrency", &c.Scoring.Concurrency)
	setInt("selector-default-budget", &c.Selector.DefaultBudgetTokens)
	setFloat("optimizer-response-reserve-pct", &c.Optimizer.ResponseReservePct)
	setFloat("budget-daily-neurons", &c.Budget.DailyNeurons)

	setBool("auth-enabled", &c.Auth.Enabled)
	setStr("auth-jwt-secret", &c.Auth.JwtSecret)
	setStr("auth-github-client-id", &c.Auth.GithubClientID)
	setStr("auth-github-client-secret", &c.Auth.GithubClientSecret)
	setStr("auth-github-redirect-url", &c.Auth.GithubRedirectURL)
	setStr("auth-github-allowed-org", &c.Auth.GithubAllowedOrg)
}

func setDefaults(c *Specification) {
	c.LogLevel = "info"
	c.Provider = "local"
	c.Database = ""
	c.Dim = 768
	c.Location = "us-central1"
	c.Port = 8080

	c.Scoring = ScoringSpecification{Concurrency: 4, CacheTTLSec: 60, CacheCap: 10_000}
	c.Selector = SelectorSpecification{DefaultBudgetTokens: 16_000}
	c.Compressor = CompressorSpecification{PreserveImportsDefault: true}
	c.Optimizer = OptimizerSpecification{ResponseReservePct: 0.20, HistoryPct: 0.10, SystemPreamblePct: 0.05, ConcurrencyCap: 4}
	c.Embedding = EmbeddingSpecification{BatchSize: 100, MaxTextLength: 10_000, MaxBatchItems: 1_000, InterBatchDelayMs: 100}
	c.Budget = BudgetSpecification{DailyNeurons: 10_000, WarningThreshold: 0.80}

	c.Auth.GithubRedirectURL = "http://localhost:3000/auth/callback"
	c.Auth.Enabled = false
}
