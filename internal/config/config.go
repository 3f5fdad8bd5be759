package config

import (
	"fmt"

	"github.com/spf13/viper"
)

type Config struct {
	ServerAddress string
	Environment   string
	Database      DatabaseConfig
	Migration     MigrationConfig
	Matching      MatchingConfig
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string
	Params   string
}

type MigrationConfig struct {
	Dir string
}

// MatchingConfig carries the reconciliation tolerances. Zero values fall back
// to the matching package defaults.
type MatchingConfig struct {
	AmountTolerancePercent float64
	MinAmountTolerance     float64
	ConfidenceThreshold    float64
	RunTimeoutSeconds      int
}

func LoadConfig() (*Config, error) {
	viper.SetConfigFile(".env")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	viper.SetDefault("MATCH_RUN_TIMEOUT_SECONDS", 60)

	config := &Config{
		ServerAddress: viper.GetString("SERVER_ADDRESS"),
		Environment:   viper.GetString("ENVIRONMENT"),
		Database: DatabaseConfig{
			Host:     viper.GetString("DB_HOST"),
			Port:     viper.GetInt("DB_PORT"),
			User:     viper.GetString("DB_USER"),
			Password: viper.GetString("DB_PASSWORD"),
			Name:     viper.GetString("DB_NAME"),
			Params:   viper.GetString("DB_PARAMS"),
		},
		Migration: MigrationConfig{
			Dir: viper.GetString("MIGRATION_DIR"),
		},
		Matching: MatchingConfig{
			AmountTolerancePercent: viper.GetFloat64("MATCH_AMOUNT_TOLERANCE_PERCENT"),
			MinAmountTolerance:     viper.GetFloat64("MATCH_MIN_AMOUNT_TOLERANCE"),
			ConfidenceThreshold:    viper.GetFloat64("MATCH_CONFIDENCE_THRESHOLD"),
			RunTimeoutSeconds:      viper.GetInt("MATCH_RUN_TIMEOUT_SECONDS"),
		},
	}

	return config, nil
}

// GetDSN returns the MySQL DSN string
func (c *Config) GetDSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?%s",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Name,
		c.Database.Params,
	)
}

// GetMigrationDBURL returns the database URL for migrations
func (c *Config) GetMigrationDBURL() string {
	return fmt.Sprintf("mysql://%s:%s@tcp(%s:%d)/%s?%s",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Name,
		c.Database.Params,
	)
}
