package docker

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/tidwall/jsonc"
)

// dockerConfigDir returns the docker CLI configuration directory:
// $DOCKER_CONFIG, else ~/.docker. Empty when neither can be determined.
func dockerConfigDir() string {
	if dir := os.Getenv("DOCKER_CONFIG"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".docker")
}

// activeContext returns the context selected by DOCKER_CONTEXT or the
// currentContext key of config.json. Empty means none is selected.
func activeContext(configDir string) string {
	if name := os.Getenv("DOCKER_CONTEXT"); name != "" {
		return name
	}
	if configDir == "" {
		return ""
	}

	data, err := os.ReadFile(filepath.Join(configDir, "config.json"))
	if err != nil {
		return ""
	}
	var cfg struct {
		CurrentContext string `json:"currentContext"`
	}
	if err := json.Unmarshal(jsonc.ToJSON(data), &cfg); err != nil {
		return ""
	}
	return cfg.CurrentContext
}

// contextHost reads the docker endpoint of context name. The docker CLI
// stores each context's metadata under contexts/meta/<sha256(name)>.
func contextHost(configDir, name string) (string, error) {
	if configDir == "" {
		return "", errors.New("docker config directory unknown")
	}

	sum := sha256.Sum256([]byte(name))
	path := filepath.Join(configDir, "contexts", "meta", hex.EncodeToString(sum[:]), "meta.json")
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading context metadata: %w", err)
	}

	var meta struct {
		Endpoints map[string]struct {
			Host string `json:"Host"`
		} `json:"Endpoints"`
	}
	if err := json.Unmarshal(jsonc.ToJSON(data), &meta); err != nil {
		return "", fmt.Errorf("parsing %s: %w", path, err)
	}

	host := meta.Endpoints["docker"].Host
	if host == "" {
		return "", fmt.Errorf("%s has no docker endpoint", path)
	}
	return host, nil
}
