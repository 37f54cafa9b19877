package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// SystemConfigDir is the last directory tried before the working directory.
const SystemConfigDir = "/etc/tapemaint"

// DiscoverConfigDir returns the first existing location among
// $TAPEMAINT_CONFIG_DIR, ~/.config/tapemaint, /etc/tapemaint and
// ./config.yaml.
func DiscoverConfigDir() (string, error) {
	return firstExisting(configCandidates(os.Getenv("TAPEMAINT_CONFIG_DIR"), SystemConfigDir))
}

func configCandidates(envDir, systemDir string) []string {
	var out []string
	if envDir != "" {
		out = append(out, envDir)
	}
	if home, err := os.UserHomeDir(); err == nil {
		out = append(out, filepath.Join(home, ".config", "tapemaint"))
	}
	return append(out, systemDir, ConfigFileName)
}

func firstExisting(candidates []string) (string, error) {
	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c, nil
		}
	}
	return "", fmt.Errorf("no config found in %s", strings.Join(candidates, ", "))
}
