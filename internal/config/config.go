package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"luckydraw/internal/draw"
	"luckydraw/internal/models"
	"luckydraw/internal/reel"
	"luckydraw/internal/services"
)

// Config holds runtime configuration for the lottery server.
type Config struct {
	Addr       string `envconfig:"ADDR" default:":8080" validate:"required"`
	GinMode    string `envconfig:"GIN_MODE" default:"release" validate:"oneof=debug release test"`
	LogVerbose bool   `envconfig:"LOG_VERBOSE" default:"true"`
	LogFile    string `envconfig:"LOG_FILE"`

	SessionTTL      time.Duration `envconfig:"SESSION_TTL" default:"1h" validate:"gt=0"`
	JanitorInterval time.Duration `envconfig:"JANITOR_INTERVAL" default:"10m" validate:"gt=0"`

	MinTenure         time.Duration `envconfig:"MIN_TENURE" default:"17532h" validate:"gte=0"`
	TopTiers          int           `envconfig:"TOP_TIERS" default:"3" validate:"gte=0,lte=5"`
	MaxWinnersPerDraw int           `envconfig:"MAX_WINNERS_PER_DRAW" default:"4" validate:"gte=1,lte=50"`
	TierCounts        []int         `envconfig:"TIER_COUNTS" default:"1,2,3,4,4" validate:"len=5,dive,gte=1"`
	// RandSeed makes draws reproducible. Zero uses crypto/rand.
	RandSeed uint64 `envconfig:"RAND_SEED" default:"0"`

	// DiscloseEligibility shows the tenure rule and eligible counts on the draw page.
	DiscloseEligibility bool `envconfig:"DISCLOSE_ELIGIBILITY" default:"true"`

	ReelInitialDelay time.Duration `envconfig:"REEL_INITIAL_DELAY" default:"50ms" validate:"gt=0"`
	ReelMaxDelay     time.Duration `envconfig:"REEL_MAX_DELAY" default:"300ms" validate:"gtefield=ReelInitialDelay"`
	ReelDecay        float64       `envconfig:"REEL_DECAY" default:"0.92" validate:"gt=0,lt=1"`
}

// Prefix is the environment variable prefix, e.g. LOTTERY_ADDR.
const Prefix = "LOTTERY"

// Load reads configuration from a .env file (when present) and the environment.
// Variables already set in the environment take precedence over the file.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", f, err)
		}
	}

	var cfg Config
	if err := envconfig.Process(Prefix, &cfg); err != nil {
		return nil, err
	}
	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	for _, n := range cfg.TierCounts {
		if n > cfg.MaxWinnersPerDraw {
			return nil, fmt.Errorf("invalid configuration: tier count %d exceeds max winners per draw %d", n, cfg.MaxWinnersPerDraw)
		}
	}
	return &cfg, nil
}

// Source returns the random source selected by RandSeed.
func (c *Config) Source() draw.Source {
	if c.RandSeed == 0 {
		return draw.NewCryptoSource()
	}
	return draw.NewSeededSource(c.RandSeed)
}

// reelSeedSalt separates the reel's sequence from the draw's for the same seed.
const reelSeedSalt = 0x5bd1e995

// ReelSource returns the random source for the reel animation. It never shares
// state with Source, so the number of frames streamed cannot shift the winners.
func (c *Config) ReelSource() draw.Source {
	if c.RandSeed == 0 {
		return draw.NewCryptoSource()
	}
	return draw.NewSeededSource(c.RandSeed ^ reelSeedSalt)
}

// ServiceOptions builds the draw service options.
func (c *Config) ServiceOptions(source draw.Source) services.Options {
	opts := services.Options{
		Policy:            draw.Policy{TopTiers: c.TopTiers, MinTenure: c.MinTenure},
		Source:            source,
		MaxWinnersPerDraw: c.MaxWinnersPerDraw,
	}
	copy(opts.TierCounts[:], c.TierCounts)
	return opts
}

// Reel returns the reel timing.
func (c *Config) Reel() reel.Config {
	return reel.Config{InitialDelay: c.ReelInitialDelay, MaxDelay: c.ReelMaxDelay, Decay: c.ReelDecay}
}

// TierLabels lists the configured tiers for logging.
func (c *Config) TierLabels() []string {
	out := make([]string, 0, models.TierCount)
	for i, tier := range models.Tiers() {
		out = append(out, fmt.Sprintf("%s x%d", tier.Label(), c.TierCounts[i]))
	}
	return out
}
