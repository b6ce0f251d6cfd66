package config

import (
	"errors"
	"flag"
	"fmt"
	"strings"
	"time"

	"secrethitler-lite/game/agent"
)

// Config is the server command configuration.
type Config struct {
	Games        int   `env:"SH_GAMES" envDefault:"1"`
	Parallelism  int   `env:"SH_PARALLELISM" envDefault:"1"`
	Seed         int64 `env:"SH_SEED" envDefault:"0"`
	ShuffleSeats bool  `env:"SH_SHUFFLE_SEATS" envDefault:"true"`
	MaxRounds    int   `env:"SH_MAX_ROUNDS" envDefault:"0"`

	// Provider is "rule", "assistants" or "auto" (assistants when an API
	// key is present).
	Provider     string `env:"SH_PROVIDER" envDefault:"auto"`
	APIKey       string `env:"SH_OPENAI_API_KEY"`
	BaseURL      string `env:"SH_OPENAI_BASE_URL" envDefault:"https://api.openai.com/v1"`
	Model        string `env:"SH_OPENAI_MODEL" envDefault:"gpt-4o-mini"`
	PersonasPath string `env:"SH_PERSONAS_PATH"`

	MaxAttempts      int           `env:"SH_MAX_ATTEMPTS" envDefault:"100"`
	PollInterval     time.Duration `env:"SH_POLL_INTERVAL" envDefault:"1s"`
	StallPolls       int           `env:"SH_STALL_POLLS" envDefault:"100"`
	RateLimitDelay   time.Duration `env:"SH_RATE_LIMIT_DELAY" envDefault:"60s"`
	ServerErrorDelay time.Duration `env:"SH_SERVER_ERROR_DELAY" envDefault:"5s"`

	LedgerMode string `env:"SH_LEDGER_MODE" envDefault:"memory"`

	// Addr enables the HTTP API and spectator feed when non-empty.
	Addr             string        `env:"SH_ADDR"`
	AuthMode         string        `env:"SH_AUTH_MODE" envDefault:"memory"`
	OperatorUser     string        `env:"SH_OPERATOR_USER" envDefault:"operator"`
	OperatorPassword string        `env:"SH_OPERATOR_PASSWORD"`
	SessionTTL       time.Duration `env:"SH_SESSION_TTL" envDefault:"24h"`
	// OpenRegistration lets spectators create their own accounts.
	OpenRegistration bool `env:"SH_AUTH_OPEN_REGISTRATION" envDefault:"false"`

	// Report is "auto", "text" or "json".
	Report string `env:"SH_REPORT" envDefault:"auto"`
}

// ParseConfig parses environment and flags into Config. Flags override the
// environment.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	if fs == nil {
		return Config{}, errors.New("flag parser is required")
	}
	var cfg Config
	if err := ParseEnv(&cfg); err != nil {
		return Config{}, err
	}
	fs.IntVar(&cfg.Games, "games", cfg.Games, "number of games to run")
	fs.IntVar(&cfg.Parallelism, "parallelism", cfg.Parallelism, "games run at the same time")
	fs.Int64Var(&cfg.Seed, "seed", cfg.Seed, "base RNG seed (0 = time based)")
	fs.BoolVar(&cfg.ShuffleSeats, "shuffle-seats", cfg.ShuffleSeats, "shuffle seating at game start")
	fs.IntVar(&cfg.MaxRounds, "max-rounds", cfg.MaxRounds, "abort a game after this many rounds (0 = unlimited)")
	fs.StringVar(&cfg.Provider, "provider", cfg.Provider, "decision provider: auto, rule or assistants")
	fs.StringVar(&cfg.Model, "model", cfg.Model, "assistants model")
	fs.StringVar(&cfg.PersonasPath, "personas", cfg.PersonasPath, "persona JSON file for the rule provider")
	fs.IntVar(&cfg.MaxAttempts, "max-attempts", cfg.MaxAttempts, "attempts per decision")
	fs.StringVar(&cfg.LedgerMode, "ledger", cfg.LedgerMode, "ledger mode: memory, sqlite or postgres")
	fs.StringVar(&cfg.AuthMode, "auth", cfg.AuthMode, "account store: memory or sqlite")
	fs.BoolVar(&cfg.OpenRegistration, "open-registration", cfg.OpenRegistration, "allow spectators to register accounts")
	fs.StringVar(&cfg.Addr, "addr", cfg.Addr, "HTTP listen address (empty disables the server)")
	fs.StringVar(&cfg.Report, "report", cfg.Report, "summary format: auto, text or json")
	if args == nil {
		args = []string{}
	}
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Games < 1 {
		return fmt.Errorf("games must be at least 1")
	}
	if c.Parallelism < 1 {
		return fmt.Errorf("parallelism must be at least 1")
	}
	if c.MaxRounds < 0 {
		return fmt.Errorf("max rounds must not be negative")
	}
	c.Provider = strings.ToLower(strings.TrimSpace(c.Provider))
	switch c.Provider {
	case "auto", "rule":
	case "assistants":
		if c.APIKey == "" {
			return fmt.Errorf("assistants provider requires SH_OPENAI_API_KEY")
		}
	default:
		return fmt.Errorf("unknown provider %q", c.Provider)
	}
	switch c.Report {
	case "auto", "text", "json":
	default:
		return fmt.Errorf("unknown report format %q", c.Report)
	}
	return nil
}

// UseAssistants reports whether the HTTP provider should be used.
func (c Config) UseAssistants() bool {
	return c.Provider == "assistants" || (c.Provider == "auto" && c.APIKey != "")
}

// ClientConfig returns the decision client tuning.
func (c Config) ClientConfig() agent.ClientConfig {
	return agent.ClientConfig{
		MaxAttempts:      c.MaxAttempts,
		PollInterval:     c.PollInterval,
		StallPolls:       c.StallPolls,
		RateLimitDelay:   c.RateLimitDelay,
		ServerErrorDelay: c.ServerErrorDelay,
	}
}
