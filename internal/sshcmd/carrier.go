package sshcmd

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"
)

const defaultConnectTimeout = 30 * time.Second

// DialOptions configures how Carrier reaches a target. Grounded on the
// teacher's setupSSHConfig (ssh.go): public-key auth plus a host-key
// callback, with a configurable connect timeout.
type DialOptions struct {
	User           string
	Hostname       string
	Port           int // 0 means 22
	SSHOpts        []string // carried for logging/documentation only; net-level opts (ciphers, etc.) aren't modeled by x/crypto/ssh per-dial
	IdentityFile   string   // "" uses ssh-agent only
	KnownHostsFile string   // "" uses ~/.ssh/known_hosts
	ConnectTimeout time.Duration
}

// Dial opens an SSH connection per opts. Auth tries, in order: an
// explicit identity file, then the running ssh-agent (SSH_AUTH_SOCK) —
// mirroring the teacher's SSHIdentityToKey-or-agent preference in
// ssh_helpers.go, simplified since this tool never prompts for a
// passphrase-protected key.
func Dial(opts DialOptions) (*ssh.Client, error) {
	methods, err := authMethods(opts.IdentityFile)
	if err != nil {
		return nil, fmt.Errorf("build auth methods: %w", err)
	}

	hostKeyCallback, err := hostKeyCallback(opts.KnownHostsFile)
	if err != nil {
		return nil, fmt.Errorf("build host key callback: %w", err)
	}

	timeout := opts.ConnectTimeout
	if timeout == 0 {
		timeout = defaultConnectTimeout
	}

	config := &ssh.ClientConfig{
		User:            opts.User,
		Auth:            methods,
		HostKeyCallback: hostKeyCallback,
		Timeout:         timeout,
	}

	port := opts.Port
	if port == 0 {
		port = 22
	}
	addr := net.JoinHostPort(opts.Hostname, strconv.Itoa(port))

	client, err := ssh.Dial("tcp", addr, config)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return client, nil
}

func authMethods(identityFile string) ([]ssh.AuthMethod, error) {
	var methods []ssh.AuthMethod

	if identityFile != "" {
		key, err := os.ReadFile(identityFile)
		if err != nil {
			return nil, fmt.Errorf("read identity file: %w", err)
		}
		signer, err := ssh.ParsePrivateKey(key)
		if err != nil {
			return nil, fmt.Errorf("parse identity file: %w", err)
		}
		methods = append(methods, ssh.PublicKeys(signer))
	}

	if sock := os.Getenv("SSH_AUTH_SOCK"); sock != "" {
		conn, err := net.Dial("unix", sock)
		if err == nil {
			ag := agent.NewClient(conn)
			methods = append(methods, ssh.PublicKeysCallback(ag.Signers))
		}
	}

	if len(methods) == 0 {
		return nil, fmt.Errorf("no SSH auth method available: set an identity file or run ssh-agent")
	}
	return methods, nil
}

func hostKeyCallback(path string) (ssh.HostKeyCallback, error) {
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("determine home directory: %w", err)
		}
		path = filepath.Join(home, ".ssh", "known_hosts")
	}

	cb, err := knownhosts.New(path)
	if err != nil {
		if os.IsNotExist(err) {
			return ssh.InsecureIgnoreHostKey(), nil
		}
		return nil, fmt.Errorf("parse known_hosts at %s: %w", path, err)
	}
	return cb, nil
}

// Carrier runs remote commands over one SSH connection and reports their
// exit code, matching the teacher's RemoteCommand.SSHexec idiom (session
// per command, stdout/stderr captured, context-driven cancellation in
// place of the teacher's fixed per-command timeout field).
type Carrier struct {
	client *ssh.Client
}

// NewCarrier wraps an already-dialed client.
func NewCarrier(client *ssh.Client) *Carrier {
	return &Carrier{client: client}
}

// Client returns the underlying SSH connection, for collaborators (such
// as internal/push) that need to layer SFTP or SCP over the same
// connection rather than dialing again.
func (c *Carrier) Client() *ssh.Client {
	return c.client
}

// Close closes the underlying SSH connection.
func (c *Carrier) Close() error {
	return c.client.Close()
}

// Result is one remote command's outcome.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// Run executes command in a fresh session, blocking until it exits, ctx
// is cancelled, or session setup fails. On cancellation the session is
// signalled and closed, matching spec.md §5's "cancel, then await to
// completion" discipline — Run always returns once the session is torn
// down, it never leaves the caller to reap it.
func (c *Carrier) Run(ctx context.Context, command string) (Result, error) {
	session, err := c.client.NewSession()
	if err != nil {
		return Result{}, fmt.Errorf("create session: %w", err)
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	if err := session.Start(command); err != nil {
		return Result{}, fmt.Errorf("start command: %w", err)
	}

	done := make(chan error, 1)
	go func() { done <- session.Wait() }()

	select {
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGTERM)
		session.Close()
		return Result{Stdout: stdout.String(), Stderr: stderr.String()}, ctx.Err()
	case err := <-done:
		res := Result{Stdout: stdout.String(), Stderr: stderr.String()}
		if err == nil {
			res.ExitCode = 0
			return res, nil
		}
		var exitErr *ssh.ExitError
		if ok := asExitError(err, &exitErr); ok {
			res.ExitCode = exitErr.ExitStatus()
			return res, nil
		}
		return res, fmt.Errorf("run command %q: %w", command, err)
	}
}

func asExitError(err error, target **ssh.ExitError) bool {
	if e, ok := err.(*ssh.ExitError); ok {
		*target = e
		return true
	}
	return false
}
