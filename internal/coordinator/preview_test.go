package coordinator

import (
	"strings"
	"testing"

	"rollout/m/v2/internal/target"
)

func TestPreviewTableListsEachUnit(t *testing.T) {
	units := []target.Unit{
		{NodeName: "web1", ProfileName: "system", ProfileUser: "root", SSHUser: "deploy", ProfilePath: "/nix/var/nix/profiles/system", Hostname: "web1.example.com"},
	}
	table := PreviewTable(units)
	if !strings.Contains(table, "web1") || !strings.Contains(table, "system") || !strings.Contains(table, "web1.example.com") {
		t.Fatalf("expected table to mention node/profile/hostname, got:\n%s", table)
	}
}

func TestConfirmYesAnswer(t *testing.T) {
	ok, err := Confirm(strings.NewReader("y\n"), &strings.Builder{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Fatalf("expected yes to confirm")
	}
}

func TestConfirmNoAnswer(t *testing.T) {
	ok, err := Confirm(strings.NewReader("n\n"), &strings.Builder{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatalf("expected no to not confirm")
	}
}

func TestConfirmEmptyInputDefaultsNo(t *testing.T) {
	ok, err := Confirm(strings.NewReader(""), &strings.Builder{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatalf("expected EOF to default to no")
	}
}
