// Package sshcmd builds the exact remote command strings the agent
// executes and carries them over a real SSH session. Grounded on
// original_source/src/deploy.rs's SshCommand/ActivateCommand/WaitCommand/
// RevokeCommand/ConfirmCommand builders for the string shapes, and on the
// teacher's ssh.go/RemoteCommand.SSHexec for the session-exec idiom.
package sshcmd

import "fmt"

// Params is everything a command builder needs about one unit, already
// derived by internal/target.BuildUnit.
type Params struct {
	Closure        string
	ProfilePath    string
	SudoPrefix     string // e.g. "sudo -u deploy", or "" for none
	TempPath       string
	ConfirmTimeout int
	MagicRollback  bool
	AutoRollback   bool
	DryActivate    bool
	Boot           bool
	Test           bool
	DebugLogs      bool
	LogDir         string // "" means omit --log-dir
}

func sudoAndBinary(sudo, closure string) string {
	if sudo == "" {
		return fmt.Sprintf("%s/activate-rs", closure)
	}
	return fmt.Sprintf("%s %s/activate-rs", sudo, closure)
}

func commonFlags(p Params) string {
	var s string
	if p.DebugLogs {
		s += " --debug-logs"
	}
	if p.LogDir != "" {
		s += fmt.Sprintf(" --log-dir %s", p.LogDir)
	}
	return s
}

// BuildActivate renders the `activate` remote command, per spec.md §4.2.
func BuildActivate(p Params) string {
	cmd := fmt.Sprintf("%s%s activate '%s' '%s' --temp-path '%s' --confirm-timeout %d",
		sudoAndBinary(p.SudoPrefix, p.Closure), commonFlags(p), p.Closure, p.ProfilePath, p.TempPath, p.ConfirmTimeout)

	if p.MagicRollback {
		cmd += " --magic-rollback"
	}
	if p.AutoRollback {
		cmd += " --auto-rollback"
	}
	if p.DryActivate {
		cmd += " --dry-activate"
	}
	if p.Boot {
		cmd += " --boot"
	}
	if p.Test {
		cmd += " --test"
	}
	return cmd
}

// BuildWait renders the `wait` remote command, per spec.md §4.2.
func BuildWait(p Params) string {
	return fmt.Sprintf("%s%s wait '%s' --temp-path '%s'",
		sudoAndBinary(p.SudoPrefix, p.Closure), commonFlags(p), p.Closure, p.TempPath)
}

// BuildRevoke renders the `revoke` remote command, per spec.md §4.2.
func BuildRevoke(p Params) string {
	return fmt.Sprintf("%s%s revoke '%s'",
		sudoAndBinary(p.SudoPrefix, p.Closure), commonFlags(p), p.ProfilePath)
}

// BuildConfirm renders the confirmation command that deletes the sentinel
// file, per spec.md §4.4 step 4: `[sudo] rm {sentinel-path}`.
func BuildConfirm(sudo, sentinelPath string) string {
	if sudo == "" {
		return fmt.Sprintf("rm '%s'", sentinelPath)
	}
	return fmt.Sprintf("%s rm '%s'", sudo, sentinelPath)
}
