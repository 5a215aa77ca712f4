package target

import (
	"errors"
	"testing"

	"rollout/m/v2/internal/settings"
)

func strp2(s string) *string { return &s }

func sampleRoot() settings.Root {
	return settings.Root{
		Nodes: map[string]settings.Node{
			"web1": {
				Hostname: strp2("web1.example.com"),
				Profiles: map[string]settings.Profile{
					"system": {GenericSettings: settings.GenericSettings{User: strp2("root")}},
					"app":    {GenericSettings: settings.GenericSettings{User: strp2("app")}},
				},
				ProfilesOrder: []string{"system", "app"},
			},
		},
	}
}

func TestBuildUnitDerivesRootProfilePath(t *testing.T) {
	u, err := BuildUnit(sampleRoot(), settings.LocalConfig{}, settings.GenericSettings{}, "web1", "system", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if u.ProfilePath != "/nix/var/nix/profiles/system" {
		t.Fatalf("unexpected profile path: %q", u.ProfilePath)
	}
	if u.Hostname != "web1.example.com" {
		t.Fatalf("unexpected hostname: %q", u.Hostname)
	}
}

func TestBuildUnitDerivesPerUserProfilePath(t *testing.T) {
	u, err := BuildUnit(sampleRoot(), settings.LocalConfig{}, settings.GenericSettings{}, "web1", "app", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if u.ProfilePath != "/nix/var/nix/profiles/per-user/app/app" {
		t.Fatalf("unexpected profile path: %q", u.ProfilePath)
	}
}

func TestBuildUnitSudoPrefixWhenUserDiffersFromSSHUser(t *testing.T) {
	cmd := settings.GenericSettings{SSHUser: strp2("deployer")}
	u, err := BuildUnit(sampleRoot(), settings.LocalConfig{}, cmd, "web1", "app", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if u.SudoPrefix != "sudo -u app" {
		t.Fatalf("expected sudo prefix, got %q", u.SudoPrefix)
	}
}

func TestBuildUnitNoSudoWhenUserMatchesSSHUser(t *testing.T) {
	cmd := settings.GenericSettings{SSHUser: strp2("app")}
	u, err := BuildUnit(sampleRoot(), settings.LocalConfig{}, cmd, "web1", "app", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if u.SudoPrefix != "" {
		t.Fatalf("expected no sudo prefix, got %q", u.SudoPrefix)
	}
}

func TestBuildUnitUnknownNode(t *testing.T) {
	_, err := BuildUnit(sampleRoot(), settings.LocalConfig{}, settings.GenericSettings{}, "missing", "system", "")
	if err == nil {
		t.Fatalf("expected error for unknown node")
	}
}

func TestExpandNodeOnlyUsesProfilesOrder(t *testing.T) {
	root := sampleRoot()
	units, err := Expand(Target{Repo: "repo", Node: strp2("web1")}, root, []string{"web1"}, settings.LocalConfig{}, settings.GenericSettings{}, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(units) != 2 {
		t.Fatalf("expected 2 units, got %d", len(units))
	}
	if units[0].ProfileName != "system" || units[1].ProfileName != "app" {
		t.Fatalf("expected system then app, got %s then %s", units[0].ProfileName, units[1].ProfileName)
	}
}

func TestExpandFullWildcard(t *testing.T) {
	root := sampleRoot()
	units, err := Expand(Target{Repo: "repo"}, root, []string{"web1"}, settings.LocalConfig{}, settings.GenericSettings{}, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(units) != 2 {
		t.Fatalf("expected 2 units, got %d", len(units))
	}
}

func TestExpandProfileWithoutNode(t *testing.T) {
	_, err := Expand(Target{Repo: "repo", Profile: strp2("system")}, sampleRoot(), nil, settings.LocalConfig{}, settings.GenericSettings{}, "")
	if err != ErrProfileWithoutNode {
		t.Fatalf("expected ErrProfileWithoutNode, got %v", err)
	}
}

func TestExpandHostnameOverrideWins(t *testing.T) {
	units, err := Expand(Target{Repo: "repo", Node: strp2("web1"), Profile: strp2("system")}, sampleRoot(), nil, settings.LocalConfig{}, settings.GenericSettings{}, "override.example.com")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if units[0].Hostname != "override.example.com" {
		t.Fatalf("expected override hostname, got %q", units[0].Hostname)
	}
}

func TestExpandAtHostOverrideUsedWhenNoCommandLineOverride(t *testing.T) {
	target := Target{Repo: "repo", Node: strp2("web1"), Profile: strp2("system"), Host: strp2("athost.example.com")}
	units, err := Expand(target, sampleRoot(), nil, settings.LocalConfig{}, settings.GenericSettings{}, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if units[0].Hostname != "athost.example.com" {
		t.Fatalf("expected @host override, got %q", units[0].Hostname)
	}
}

func TestExpandCommandLineOverrideWinsOverAtHost(t *testing.T) {
	target := Target{Repo: "repo", Node: strp2("web1"), Profile: strp2("system"), Host: strp2("athost.example.com")}
	units, err := Expand(target, sampleRoot(), nil, settings.LocalConfig{}, settings.GenericSettings{}, "cli.example.com")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if units[0].Hostname != "cli.example.com" {
		t.Fatalf("expected command-line override to win, got %q", units[0].Hostname)
	}
}

func TestBuildUnitNoHostnameIsNoHost(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	root := settings.Root{
		Nodes: map[string]settings.Node{
			"hostless": {
				Profiles: map[string]settings.Profile{
					"system": {GenericSettings: settings.GenericSettings{User: strp2("root")}},
				},
				ProfilesOrder: []string{"system"},
			},
		},
	}
	_, err := BuildUnit(root, settings.LocalConfig{}, settings.GenericSettings{}, "hostless", "system", "")
	if !errors.Is(err, ErrNoHost) {
		t.Fatalf("expected ErrNoHost, got %v", err)
	}
}
