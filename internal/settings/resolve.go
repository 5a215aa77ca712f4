package settings

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/kevinburke/ssh_config"
	"gopkg.in/yaml.v2"
)

// LocalConfig is the controller's own defaults file, `~/.ssh_deployrc`,
// consulted below root settings. Grounded on deployer_src/deployer.go's
// yaml Config struct — same library, same "small yaml file of operator
// defaults" shape, different fields for our domain.
type LocalConfig struct {
	GenericSettings `yaml:",inline"`
}

// LoadLocalConfig reads ~/.ssh_deployrc if present. A missing file is not
// an error: it simply yields a zero-value LocalConfig, matching the
// teacher's pattern of tolerating an absent optional config file.
func LoadLocalConfig(path string) (LocalConfig, error) {
	var cfg LocalConfig
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return cfg, fmt.Errorf("determine home directory: %w", err)
		}
		path = filepath.Join(home, ".ssh_deployrc")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

// Effective is the fully merged settings plus the resolved hostname for
// one (node, profile) pair, ready for internal/target to turn into a Unit.
type Effective struct {
	GenericSettings
	Hostname string
}

// Resolve merges command-line overrides, profile, node, and root settings
// (in that precedence order, per spec.md §4.1 and Merge4's doc comment),
// then falls back to local-config defaults below root, and finally fills
// in Hostname from the node, or failing that from ~/.ssh/config (keyed on
// nodeName as the Host alias), or failing that leaves it empty for the
// caller to report as NoHost.
func Resolve(nodeName string, cmd GenericSettings, profile Profile, node Node, root Root, local LocalConfig) Effective {
	merged := GenericSettings{}
	merged.mergeInto(cmd)
	merged.mergeInto(profile.GenericSettings)
	merged.mergeInto(node.GenericSettings)
	merged.mergeInto(root.GenericSettings)
	merged.mergeInto(local.GenericSettings)

	eff := Effective{GenericSettings: merged}

	if node.Hostname != nil && *node.Hostname != "" {
		eff.Hostname = *node.Hostname
		return eff
	}

	if hostname, err := HostnameFromSSHConfig("", nodeName); err == nil && hostname != "" {
		eff.Hostname = hostname
		return eff
	}

	eff.Hostname = ""
	return eff
}

// HostnameFromSSHConfig consults ~/.ssh/config (or the given path) for a
// Host entry matching alias and returns its HostName directive, if any.
// This is the supplemental lowest-precedence hostname source described in
// SPEC_FULL.md's Configuration section — it never overrides an explicit
// node hostname, it only fills the gap when one is absent.
func HostnameFromSSHConfig(path, alias string) (string, error) {
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("determine home directory: %w", err)
		}
		path = filepath.Join(home, ".ssh", "config")
	}

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	cfg, err := ssh_config.Decode(f)
	if err != nil {
		return "", fmt.Errorf("parse %s: %w", path, err)
	}

	hostname, err := cfg.Get(alias, "HostName")
	if err != nil {
		return "", fmt.Errorf("look up HostName for %s: %w", alias, err)
	}
	return hostname, nil
}
