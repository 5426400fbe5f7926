package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
)

// LoadDotEnv loads environment variables from the first .env file found in the
// working directory, its parents or next to the executable. Variables already
// set in the environment take precedence. A missing file is not an error.
func LoadDotEnv() (string, error) {
	envFiles := []string{
		".env",
		"../.env",
		"../../.env",
	}

	if exe, err := os.Executable(); err == nil {
		exeDir := filepath.Dir(exe)
		envFiles = append(envFiles,
			filepath.Join(exeDir, ".env"),
			filepath.Join(exeDir, "..", ".env"),
		)
	}

	for _, envFile := range envFiles {
		if _, err := os.Stat(envFile); err != nil {
			continue
		}
		if err := godotenv.Load(envFile); err != nil {
			return "", fmt.Errorf("failed to load %s: %w", envFile, err)
		}
		return envFile, nil
	}

	return "", nil
}
