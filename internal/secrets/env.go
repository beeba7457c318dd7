// Package secrets resolves credentials at process start. Values come from a
// .env file when present, with real environment variables taking priority.
package secrets

import (
	"os"

	"github.com/joho/godotenv"
)

// Well-known secret keys.
const (
	KeySummarizerAPIKey = "UP2D8_SUMMARIZER_API_KEY"
	KeySMTPPassword     = "UP2D8_SMTP_PASSWORD"
	KeyDatabaseDSN      = "UP2D8_DB_DSN"
)

// EnvProvider looks secrets up in the process environment.
type EnvProvider struct {
	overrides map[string]string
}

// Load reads the optional .env file and returns a provider. A missing file
// is not an error; deployments inject real environment variables instead.
func Load(dotenvPath string) (*EnvProvider, error) {
	overrides := map[string]string{}
	if dotenvPath != "" {
		fileVals, err := godotenv.Read(dotenvPath)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, err
			}
		} else {
			overrides = fileVals
		}
	}
	return &EnvProvider{overrides: overrides}, nil
}

// Secret returns the value for key. Environment variables win over the
// .env file.
func (p *EnvProvider) Secret(key string) (string, bool) {
	if val, ok := os.LookupEnv(key); ok && val != "" {
		return val, true
	}
	if val, ok := p.overrides[key]; ok && val != "" {
		return val, true
	}
	return "", false
}
