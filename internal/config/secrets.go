package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
)

// DefaultSecretsDir is where Docker mounts secrets.
const DefaultSecretsDir = "/run/secrets"

// LoadSecrets exports every file in dir as an environment variable named
// after the file, then loads envFile. Values from envFile take precedence over
// both secrets and the existing environment. A missing dir or envFile is not
// an error.
func LoadSecrets(dir, envFile string, logger *slog.Logger) error {
	entries, err := os.ReadDir(dir)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		logger.Warn("no docker secrets found", "dir", dir)
	case err != nil:
		return fmt.Errorf("read secrets dir: %w", err)
	default:
		n := 0
		for _, e := range entries {
			if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
				continue
			}
			b, err := os.ReadFile(filepath.Join(dir, e.Name()))
			if err != nil {
				return fmt.Errorf("read secret %s: %w", e.Name(), err)
			}
			value := strings.TrimSpace(string(b))
			if err := os.Setenv(e.Name(), value); err != nil {
				return fmt.Errorf("set secret %s: %w", e.Name(), err)
			}
			logger.Info("read docker secret", "name", e.Name(), "length", len(value))
			n++
		}
		if n == 0 {
			logger.Warn("no docker secrets found", "dir", dir)
		}
	}

	if envFile == "" {
		return nil
	}
	if err := godotenv.Overload(envFile); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			logger.Warn("no env file found", "path", envFile)
			return nil
		}
		return fmt.Errorf("load %s: %w", envFile, err)
	}
	return nil
}
