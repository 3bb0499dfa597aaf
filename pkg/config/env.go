package config

import (
	"sync"

	"github.com/joho/godotenv"
)

const (
	EnvDevelopment = "development"
	EnvStaging     = "staging"
	EnvProduction  = "production"
)

var dotenvOnce sync.Once

// LoadDotEnv reads ./.env into the process environment once. Variables that
// are already set are not overwritten.
func LoadDotEnv() {
	dotenvOnce.Do(func() {
		_ = godotenv.Load()
	})
}

// IsProductionLike reports whether env must run against real infrastructure.
func IsProductionLike(env string) bool {
	return env == EnvStaging || env == EnvProduction
}
