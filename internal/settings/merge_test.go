package settings

import "testing"

func strp(s string) *string { return &s }
func boolp(b bool) *bool    { return &b }
func intp(i int) *int       { return &i }

func TestMerge4PrecedenceCmdWins(t *testing.T) {
	cmd := GenericSettings{SSHUser: strp("cmd-user")}
	profile := GenericSettings{SSHUser: strp("profile-user")}
	node := GenericSettings{SSHUser: strp("node-user")}
	root := GenericSettings{SSHUser: strp("root-user")}

	got := Merge4(cmd, profile, node, root)
	if got.SSHUser == nil || *got.SSHUser != "cmd-user" {
		t.Fatalf("expected cmd-user to win, got %v", got.SSHUser)
	}
}

func TestMerge4FallsThroughLevels(t *testing.T) {
	cmd := GenericSettings{}
	profile := GenericSettings{}
	node := GenericSettings{SSHUser: strp("node-user")}
	root := GenericSettings{SSHUser: strp("root-user")}

	got := Merge4(cmd, profile, node, root)
	if got.SSHUser == nil || *got.SSHUser != "node-user" {
		t.Fatalf("expected node-user to win over root, got %v", got.SSHUser)
	}
}

func TestMerge4SSHOptsConcatenateInPrecedenceOrder(t *testing.T) {
	cmd := GenericSettings{SSHOpts: []string{"-oA"}}
	profile := GenericSettings{SSHOpts: []string{"-oB"}}
	node := GenericSettings{SSHOpts: []string{"-oC"}}
	root := GenericSettings{SSHOpts: []string{"-oD"}}

	got := Merge4(cmd, profile, node, root)
	want := []string{"-oA", "-oB", "-oC", "-oD"}
	if len(got.SSHOpts) != len(want) {
		t.Fatalf("got %v, want %v", got.SSHOpts, want)
	}
	for i := range want {
		if got.SSHOpts[i] != want[i] {
			t.Fatalf("got %v, want %v", got.SSHOpts, want)
		}
	}
}

func TestDefaultsApplyWhenUnset(t *testing.T) {
	g := GenericSettings{}
	if g.ConfirmTimeoutOrDefault() != DefaultConfirmTimeout {
		t.Errorf("confirm timeout default mismatch")
	}
	if g.ActivationTimeoutOrDefault() != DefaultActivationTimeout {
		t.Errorf("activation timeout default mismatch")
	}
	if g.TempPathOrDefault() != DefaultTempPath {
		t.Errorf("temp path default mismatch")
	}
	if !g.MagicRollbackOrDefault() {
		t.Errorf("magic rollback should default true")
	}
	if !g.AutoRollbackOrDefault() {
		t.Errorf("auto rollback should default true")
	}
}

func TestExplicitFalseIsNotOverwrittenByDefault(t *testing.T) {
	g := GenericSettings{MagicRollback: boolp(false), AutoRollback: boolp(false)}
	if g.MagicRollbackOrDefault() {
		t.Errorf("explicit false for magic rollback must stick")
	}
	if g.AutoRollbackOrDefault() {
		t.Errorf("explicit false for auto rollback must stick")
	}
}

func TestOrderedProfileNamesUsesOrderThenRemaining(t *testing.T) {
	n := Node{
		Profiles: map[string]Profile{
			"system": {},
			"extra":  {},
			"first":  {},
		},
		ProfilesOrder: []string{"first", "system"},
	}

	got := n.OrderedProfileNames()
	if len(got) != 3 {
		t.Fatalf("expected 3 names, got %v", got)
	}
	if got[0] != "first" || got[1] != "system" {
		t.Fatalf("expected profiles_order to come first, got %v", got)
	}
	if got[2] != "extra" {
		t.Fatalf("expected remaining profile last, got %v", got)
	}
}

func TestOrderedProfileNamesIgnoresStaleOrderEntries(t *testing.T) {
	n := Node{
		Profiles:      map[string]Profile{"a": {}},
		ProfilesOrder: []string{"gone", "a"},
	}
	got := n.OrderedProfileNames()
	if len(got) != 1 || got[0] != "a" {
		t.Fatalf("expected stale entry dropped, got %v", got)
	}
}
