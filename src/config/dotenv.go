package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
)

const (
	EnvAPIKey      = "MS_ALPACA_API_KEY"
	EnvAPISecret   = "MS_ALPACA_API_SECRET"
	EnvDatabaseURL = "MS_DATABASE_URL"
)

// -----------------------------------------------------------------------------

// LoadEnvFile reads a dotenv file into the process environment. A missing file
// is not an error. Variables already set in the process win.
func LoadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to load env file '%s': %w", path, err)
	}
	return nil
}

// -----------------------------------------------------------------------------

// ApplyEnv copies vendor credentials and the database URL from the environment.
func (c *Config) ApplyEnv() {
	c.EnvCredentials.APIKey = os.Getenv(EnvAPIKey)
	c.EnvCredentials.APISecret = os.Getenv(EnvAPISecret)

	if dsn := os.Getenv(EnvDatabaseURL); dsn != "" && c.Storage.DBConnectionString == "" {
		c.Storage.DBConnectionString = dsn
	}
}
