package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// EnvSource is the environment variable consulted when no --config flag is
// given. The value may be a file path or an http(s):// URL.
const EnvSource = "XOPS_CONFIG"

const localFileName = "xops.yaml"

// ResolveSource picks the registry source: the explicit flag value, then
// $XOPS_CONFIG, then ./xops.yaml, then ~/.config/xops-mcp/config.yaml.
func ResolveSource(flagValue string) (string, error) {
	if flagValue != "" {
		return flagValue, nil
	}
	if env := os.Getenv(EnvSource); env != "" {
		return env, nil
	}
	if _, err := os.Stat(localFileName); err == nil {
		return localFileName, nil
	}
	if home, err := os.UserHomeDir(); err == nil {
		path := filepath.Join(home, ".config", "xops-mcp", "config.yaml")
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("no registry source found: pass --config, set %s, or create %s", EnvSource, localFileName)
}
