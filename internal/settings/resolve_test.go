package settings

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadLocalConfigMissingFileIsNotError(t *testing.T) {
	cfg, err := LoadLocalConfig(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	if err != nil {
		t.Fatalf("missing config file should not error: %v", err)
	}
	if cfg.SSHUser != nil {
		t.Fatalf("expected zero-value config, got %+v", cfg)
	}
}

func TestLoadLocalConfigParsesYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".ssh_deployrc")
	content := "sshUser: deployer\nconfirmTimeout: 45\nsshOpts:\n  - -oStrictHostKeyChecking=no\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	cfg, err := LoadLocalConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.SSHUser == nil || *cfg.SSHUser != "deployer" {
		t.Fatalf("expected sshUser deployer, got %v", cfg.SSHUser)
	}
	if cfg.ConfirmTimeoutOrDefault() != 45 {
		t.Fatalf("expected confirm timeout 45, got %d", cfg.ConfirmTimeoutOrDefault())
	}
	if len(cfg.SSHOpts) != 1 || cfg.SSHOpts[0] != "-oStrictHostKeyChecking=no" {
		t.Fatalf("expected one ssh opt, got %v", cfg.SSHOpts)
	}
}

func TestResolveExplicitNodeHostnameWins(t *testing.T) {
	node := Node{Hostname: strp("explicit.example.com")}
	eff := Resolve("web1", GenericSettings{}, Profile{}, node, Root{}, LocalConfig{})
	if eff.Hostname != "explicit.example.com" {
		t.Fatalf("expected explicit hostname, got %q", eff.Hostname)
	}
}

func TestResolveFallsBackToLocalConfigBelowRoot(t *testing.T) {
	root := Root{GenericSettings: GenericSettings{SSHUser: strp("root-user")}}
	local := LocalConfig{GenericSettings: GenericSettings{SSHUser: strp("local-user"), ConfirmTimeout: intp(99)}}

	eff := Resolve("web1", GenericSettings{}, Profile{}, Node{}, root, local)
	if eff.SSHUser == nil || *eff.SSHUser != "root-user" {
		t.Fatalf("root should win over local config, got %v", eff.SSHUser)
	}
	if eff.ConfirmTimeoutOrDefault() != 99 {
		t.Fatalf("local config should fill gap root left, got %d", eff.ConfirmTimeoutOrDefault())
	}
}

func TestResolveFallsBackToSSHConfigWhenNodeHasNoHostname(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	sshDir := filepath.Join(home, ".ssh")
	if err := os.MkdirAll(sshDir, 0o700); err != nil {
		t.Fatalf("mkdir .ssh: %v", err)
	}
	content := "Host web1\n  HostName 10.0.0.9\n"
	if err := os.WriteFile(filepath.Join(sshDir, "config"), []byte(content), 0o600); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	eff := Resolve("web1", GenericSettings{}, Profile{}, Node{}, Root{}, LocalConfig{})
	if eff.Hostname != "10.0.0.9" {
		t.Fatalf("expected ssh_config fallback hostname, got %q", eff.Hostname)
	}
}

func TestHostnameFromSSHConfigMissingFileIsNotError(t *testing.T) {
	hostname, err := HostnameFromSSHConfig(filepath.Join(t.TempDir(), "config"), "myhost")
	if err != nil {
		t.Fatalf("missing ssh config should not error: %v", err)
	}
	if hostname != "" {
		t.Fatalf("expected empty hostname, got %q", hostname)
	}
}

func TestHostnameFromSSHConfigReadsHostName(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config")
	content := "Host myhost\n  HostName 10.0.0.5\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	hostname, err := HostnameFromSSHConfig(path, "myhost")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if hostname != "10.0.0.5" {
		t.Fatalf("expected 10.0.0.5, got %q", hostname)
	}
}
