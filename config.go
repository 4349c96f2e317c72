package dataengine

import "github.com/caarlos0/env/v11"

// Config is provided once at Engine construction and never mutated
// afterward. Field parsing is via caarlos0/env struct tags.
type Config struct {
	ConnectorURL   string `env:"DATAENGINE_CONNECTOR_URL,required"`
	LogLevel       string `env:"DATAENGINE_LOG_LEVEL" envDefault:"info"`
	ResetOnMigrate bool   `env:"DATAENGINE_RESET_ON_MIGRATE" envDefault:"false"`
	DriftPolicy    string `env:"DATAENGINE_DRIFT_POLICY" envDefault:"warn"`
}

// LoadConfig parses Config from the process environment.
func LoadConfig() (Config, error) {
	cfg := Config{}
	if err := env.Parse(&cfg); err != nil {
		return Config{}, InternalError(err)
	}
	return cfg, nil
}
