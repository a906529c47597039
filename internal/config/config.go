package config

import (
	"log"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	Port          int    `env:"PORT" envDefault:"8765"`
	SynthesisURL  string `env:"SYNTHESIS_URL" envDefault:"http://127.0.0.1:50021"`
	ConversionURL string `env:"CONVERSION_URL" envDefault:"http://127.0.0.1:8001"`
	StorageRoot   string `env:"STORAGE_ROOT" envDefault:"./miovo-bridge"`
	DatabasePath  string `env:"DATABASE_PATH" envDefault:""`
	Version       string `env:"VERSION" envDefault:"1.0.0"`

	AllowedOrigins []string `env:"ALLOWED_ORIGINS" envDefault:"*" envSeparator:","`

	SynthesisProbePath  string `env:"SYNTHESIS_PROBE_PATH" envDefault:"/version"`
	ConversionProbePath string `env:"CONVERSION_PROBE_PATH" envDefault:"/health"`

	StatusInterval     time.Duration `env:"STATUS_INTERVAL" envDefault:"5s"`
	ProbeTimeout       time.Duration `env:"PROBE_TIMEOUT" envDefault:"2s"`
	PassthroughTimeout time.Duration `env:"PASSTHROUGH_TIMEOUT" envDefault:"30s"`
	BackendTimeout     time.Duration `env:"BACKEND_TIMEOUT" envDefault:"30s"`

	TrainingTick          time.Duration `env:"TRAINING_TICK" envDefault:"1s"`
	TrainingEpochStep     int           `env:"TRAINING_EPOCH_STEP" envDefault:"10"`
	UploadProcessingDelay time.Duration `env:"UPLOAD_PROCESSING_DELAY" envDefault:"2s"`
	StrictTrainingData    bool          `env:"STRICT_TRAINING_DATA" envDefault:"false"`
}

// LoadConfig reads the environment, optionally seeded from envFile.
func LoadConfig(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return nil, err
		}
		log.Printf("loaded env from file %s", envFile)
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, err
	}

	if cfg.TrainingEpochStep <= 0 {
		log.Printf("invalid TRAINING_EPOCH_STEP %d, using default 10", cfg.TrainingEpochStep)
		cfg.TrainingEpochStep = 10
	}

	return &cfg, nil
}

func (c *Config) DatabaseFile() string {
	if c.DatabasePath != "" {
		return c.DatabasePath
	}
	return filepath.Join(c.StorageRoot, "bridge.db")
}
