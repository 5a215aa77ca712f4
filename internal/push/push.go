// Package push implements spec.md §1's store-copy black box: "ensure
// closure C and the agent binary exist on target T". Grounded on the
// teacher's ssh.go SCPUpload (the transfer mechanics) and on the
// controller/deployer go.mods' shared use of github.com/pkg/sftp for the
// remote existence check that SCPUpload itself doesn't do.
package push

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path"
	"time"

	scp "github.com/bramvdbogaerde/go-scp"
	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"

	"rollout/m/v2/internal/errtax"
	"rollout/m/v2/internal/rlog"
	"rollout/m/v2/internal/sshcmd"
	"rollout/m/v2/internal/target"
)

const scpTimeout = 900 * time.Second

// Dialer opens the SSH connection a push should run over. Matches
// internal/coordinator.Dialer's shape so a single dial function can be
// shared between the two collaborators.
type Dialer func(u target.Unit) (*sshcmd.Carrier, error)

// Client pushes a unit's closure and agent binary to its target,
// implementing internal/coordinator.Pusher. It dials its own connection
// per call via Dial, since the push happens before the coordinator opens
// the activate/wait/confirm connections for the same unit.
type Client struct {
	Log  *rlog.Logger
	Dial Dialer

	// AgentBinaryPath is the local path to the activate-rs binary built
	// for the target's architecture.
	AgentBinaryPath string

	// SSHOpts is passed through as NIX_SSHOPTS to any external copy
	// subprocess this package might shell out to, per SPEC_FULL.md
	// supplemented feature 5. Unused when the transfer is done purely via
	// go-scp/sftp, as it is here, but still set on the environment in
	// case a collaborator script invoked from the same process wants it.
	SSHOpts []string

	// CheckSigs requires a remote closure that already exists to hash-match
	// the local archive before Push skips re-copying it, rather than
	// trusting the remote path's mere presence. Corresponds to the
	// controller's `--check-sigs` flag.
	CheckSigs bool
}

// ClosureExists checks, via SFTP, whether the closure's remote path
// already exists on the target — avoiding a redundant re-copy, and
// giving the coordinator a cheap preflight before it commits to a
// deployment.
func ClosureExists(carrier *sshcmd.Carrier, remoteClosurePath string) (bool, error) {
	sftpClient, err := sftp.NewClient(carrier.Client())
	if err != nil {
		return false, errtax.New(errtax.External, errtax.KindCopy, fmt.Errorf("open sftp session: %w", err))
	}
	defer sftpClient.Close()

	_, err = sftpClient.Stat(remoteClosurePath)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, errtax.New(errtax.External, errtax.KindCopy, fmt.Errorf("stat %s: %w", remoteClosurePath, err))
}

// ensureRemoteDir stats remoteDir and, if absent, creates it (and its
// parents) via SFTP — the remote temp-path preflight SPEC_FULL.md's
// domain stack table calls for.
func ensureRemoteDir(client *ssh.Client, remoteDir string) error {
	sftpClient, err := sftp.NewClient(client)
	if err != nil {
		return errtax.New(errtax.External, errtax.KindCopy, fmt.Errorf("open sftp session: %w", err))
	}
	defer sftpClient.Close()

	if _, err := sftpClient.Stat(remoteDir); err == nil {
		return nil
	}
	if err := sftpClient.MkdirAll(remoteDir); err != nil {
		return errtax.New(errtax.External, errtax.KindCopy, fmt.Errorf("mkdir %s: %w", remoteDir, err))
	}
	return nil
}

// Push dials its own connection to u's target and copies the closure and
// agent binary, satisfying internal/coordinator.Pusher.
func (c *Client) Push(ctx context.Context, u target.Unit, remoteClosurePath string) error {
	carrier, err := c.Dial(u)
	if err != nil {
		return fmt.Errorf("dial for push: %w", err)
	}
	defer carrier.Close()

	return c.pushOver(ctx, carrier, u, remoteClosurePath)
}

// pushOver copies the closure archive and the agent binary to u's target
// over carrier, creating the remote temp directory first if needed.
// Matches the teacher's SCPUpload idiom: read local content into memory,
// open an scp.Client over the existing *ssh.Client, Copy with explicit
// mode bits.
func (c *Client) pushOver(ctx context.Context, carrier *sshcmd.Carrier, u target.Unit, remoteClosurePath string) error {
	if err := os.Setenv("NIX_SSHOPTS", joinSSHOpts(c.SSHOpts)); err != nil {
		return fmt.Errorf("set NIX_SSHOPTS: %w", err)
	}

	tempPath := u.Settings.TempPathOrDefault()
	if err := ensureRemoteDir(carrier.Client(), tempPath); err != nil {
		return err
	}

	exists, err := ClosureExists(carrier, remoteClosurePath)
	if err != nil {
		return err
	}
	if exists && c.CheckSigs {
		match, err := c.remoteMatchesLocal(ctx, carrier, remoteClosurePath)
		if err != nil {
			return errtax.New(errtax.External, errtax.KindSign, err)
		}
		exists = match
	}

	if exists {
		if c.Log != nil {
			c.Log.Info("closure %s already present on %s, skipping copy", remoteClosurePath, u.Hostname)
		}
	} else {
		// The closure path is content-addressed: the same string names
		// both the already-built artifact on this machine and the
		// destination on the target, the way `nix copy --to ssh://host
		// <store-path>` uses one path for both ends.
		if err := c.copyFile(ctx, carrier.Client(), remoteClosurePath, remoteClosurePath, "0644"); err != nil {
			return errtax.New(errtax.External, errtax.KindCopy, err)
		}
	}

	remoteAgentPath := path.Join(remoteClosurePath, "activate-rs")
	if err := c.copyFile(ctx, carrier.Client(), c.AgentBinaryPath, remoteAgentPath, "0755"); err != nil {
		return errtax.New(errtax.External, errtax.KindCopy, err)
	}

	return nil
}

// remoteMatchesLocal runs `sha256sum` on the remote path and compares it
// against the local archive's digest, the `--check-sigs` integrity check.
func (c *Client) remoteMatchesLocal(ctx context.Context, carrier *sshcmd.Carrier, remotePath string) (bool, error) {
	content, err := os.ReadFile(remotePath)
	if err != nil {
		return false, fmt.Errorf("read %s: %w", remotePath, err)
	}
	localSum := sha256.Sum256(content)

	res, err := carrier.Run(ctx, fmt.Sprintf("sha256sum '%s'", remotePath))
	if err != nil {
		return false, fmt.Errorf("hash remote %s: %w", remotePath, err)
	}
	if res.ExitCode != 0 {
		return false, nil
	}
	fields := bytes.Fields([]byte(res.Stdout))
	if len(fields) == 0 {
		return false, nil
	}
	return hex.EncodeToString(localSum[:]) == string(fields[0]), nil
}

func (c *Client) copyFile(ctx context.Context, client *ssh.Client, localPath, remotePath, mode string) error {
	content, err := os.ReadFile(localPath)
	if err != nil {
		return fmt.Errorf("read %s: %w", localPath, err)
	}

	transferClient, err := scp.NewClientBySSHWithTimeout(client, scpTimeout)
	if err != nil {
		return fmt.Errorf("create scp session: %w", err)
	}
	defer transferClient.Close()

	reader := bytes.NewReader(content)
	if err := transferClient.Copy(ctx, reader, remotePath, mode, int64(len(content))); err != nil {
		return fmt.Errorf("scp %s to %s: %w", localPath, remotePath, err)
	}
	return nil
}

func joinSSHOpts(opts []string) string {
	var s string
	for i, o := range opts {
		if i > 0 {
			s += " "
		}
		s += o
	}
	return s
}
