// Copyright 2025 Waleed Mirza
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds everything the server binary reads from the environment.
type Config struct {
	DatabaseURL string
	JWTSecret   string
	RunAddress  string
	LogLevel    string
}

// LoadConfig reads configuration from a .env file (when present) and the
// process environment.
func LoadConfig() *Config {
	// Absent .env is fine; the environment alone is authoritative.
	_ = godotenv.Load()
	viper.AutomaticEnv()

	cfg := &Config{
		DatabaseURL: viper.GetString("database_url"),
		JWTSecret:   viper.GetString("jwt_secret"),
		RunAddress:  viper.GetString("run_address"),
		LogLevel:    viper.GetString("log_level"),
	}
	if cfg.RunAddress == "" {
		cfg.RunAddress = ":8080"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	return cfg
}
