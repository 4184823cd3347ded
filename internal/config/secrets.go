package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

func secretsFilePath() string {
	return filepath.Join(userDir("XDG_DATA_HOME", ".local", "share"), "askd", "secrets.json")
}

// secretsReader reads credentials from a 0600 JSON file of the form
// {"service": {"account": "value"}}, for hosts where exporting the key
// into the environment is undesirable.
type secretsReader struct {
	path string
}

func (r secretsReader) Get(service, account string) (string, error) {
	p := r.path
	if p == "" {
		p = secretsFilePath()
	}
	data, err := os.ReadFile(p)
	if err != nil {
		return "", fmt.Errorf("secrets not available: %w", err)
	}
	var secrets map[string]map[string]string
	if err := json.Unmarshal(data, &secrets); err != nil {
		return "", fmt.Errorf("parsing secrets file: %w", err)
	}
	svc, ok := secrets[service]
	if !ok {
		return "", fmt.Errorf("service %q not found", service)
	}
	val, ok := svc[account]
	if !ok {
		return "", fmt.Errorf("account %q not found in service %q", account, service)
	}
	return strings.TrimSpace(val), nil
}
