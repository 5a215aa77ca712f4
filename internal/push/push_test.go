package push

import "testing"

func TestJoinSSHOptsEmpty(t *testing.T) {
	if got := joinSSHOpts(nil); got != "" {
		t.Fatalf("expected empty string, got %q", got)
	}
}

func TestJoinSSHOptsJoinsWithSpace(t *testing.T) {
	got := joinSSHOpts([]string{"-o", "StrictHostKeyChecking=no", "-p", "2222"})
	want := "-o StrictHostKeyChecking=no -p 2222"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}
