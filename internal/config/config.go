package config

import (
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Env                    string        `mapstructure:"ENV"`
	Port                   string        `mapstructure:"PORT"`
	DatabaseURL            string        `mapstructure:"DATABASE_URL"`
	AdminKey               string        `mapstructure:"ADMIN_KEY"`
	DirectoryURL           string        `mapstructure:"DIRECTORY_URL"`
	CORSAllowed            string        `mapstructure:"CORS_ALLOWED_ORIGINS"`
	RequestTimeout         time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	LogLevel               string        `mapstructure:"LOG_LEVEL"`
	SystemActorID          string        `mapstructure:"SYSTEM_ACTOR_ID"`
	RulesFile              string        `mapstructure:"RULES_FILE"`
	AmendmentRetryMaxWait  time.Duration `mapstructure:"AMENDMENT_RETRY_MAX_ELAPSED"`
	DirectoryClientTimeout time.Duration `mapstructure:"DIRECTORY_TIMEOUT"`
}

// Load reads .env when present, then the environment. Environment variables
// win over the file.
func Load() (Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	_ = v.ReadInConfig()

	v.SetDefault("ENV", "dev")
	v.SetDefault("PORT", "8080")
	v.SetDefault("REQUEST_TIMEOUT", "30s")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("CORS_ALLOWED_ORIGINS", "*")
	v.SetDefault("SYSTEM_ACTOR_ID", "00000000-0000-0000-0000-000000000001")
	v.SetDefault("AMENDMENT_RETRY_MAX_ELAPSED", "2s")
	v.SetDefault("DIRECTORY_TIMEOUT", "5s")
	// Keys without a default must still be registered or Unmarshal never
	// sees them from the environment.
	for _, key := range []string{"DATABASE_URL", "ADMIN_KEY", "DIRECTORY_URL", "RULES_FILE"} {
		v.SetDefault(key, "")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
