// Package settings holds the declarative deployment description obtained
// from the external evaluator (settings.rs/data.rs in the upstream Rust
// tool) and the four-level merge that produces per-unit effective settings.
package settings

// GenericSettings is the subset of configuration mergeable at every level:
// command line, profile, node, and root. Ported field-for-field from
// original_source/src/settings.rs's GenericSettings, using pointers where
// the Rust side used Option<T> so "unset" is distinguishable from "false"/
// zero at merge time.
type GenericSettings struct {
	SSHUser        *string  `json:"sshUser,omitempty" yaml:"sshUser,omitempty"`
	User           *string  `json:"user,omitempty" yaml:"user,omitempty"`
	SSHOpts        []string `json:"sshOpts,omitempty" yaml:"sshOpts,omitempty"`
	FastConnection *bool    `json:"fastConnection,omitempty" yaml:"fastConnection,omitempty"`
	AutoRollback   *bool    `json:"autoRollback,omitempty" yaml:"autoRollback,omitempty"`
	ConfirmTimeout *int     `json:"confirmTimeout,omitempty" yaml:"confirmTimeout,omitempty"`
	ActivationTimeout *int  `json:"activationTimeout,omitempty" yaml:"activationTimeout,omitempty"`
	TempPath       *string  `json:"tempPath,omitempty" yaml:"tempPath,omitempty"`
	MagicRollback  *bool    `json:"magicRollback,omitempty" yaml:"magicRollback,omitempty"`
	RemoteBuild    *bool    `json:"remoteBuild,omitempty" yaml:"remoteBuild,omitempty"`
	SudoPrefix     *string  `json:"sudoPrefix,omitempty" yaml:"sudoPrefix,omitempty"`
}

// Default values named explicitly in spec.md §3.
const (
	DefaultConfirmTimeout    = 30
	DefaultActivationTimeout = 240
	DefaultTempPath          = "/tmp"
)

// mergeInto applies "other" on top of the receiver, where "other" is
// LOWER precedence (the receiver wins on scalar conflicts). This matches
// spec.md §4.1: "command-line override settings" start the accumulator and
// each subsequent level (profile, node, root) is merged in with
// decreasing precedence — i.e. a field already set by a higher-precedence
// level is never overwritten, while ssh-opts keeps growing regardless of
// precedence (earliest-applied first per §3's "ssh-opts sequences
// concatenate, earliest first").
func (g *GenericSettings) mergeInto(other GenericSettings) {
	if g.SSHUser == nil {
		g.SSHUser = other.SSHUser
	}
	if g.User == nil {
		g.User = other.User
	}
	if g.FastConnection == nil {
		g.FastConnection = other.FastConnection
	}
	if g.AutoRollback == nil {
		g.AutoRollback = other.AutoRollback
	}
	if g.ConfirmTimeout == nil {
		g.ConfirmTimeout = other.ConfirmTimeout
	}
	if g.ActivationTimeout == nil {
		g.ActivationTimeout = other.ActivationTimeout
	}
	if g.TempPath == nil {
		g.TempPath = other.TempPath
	}
	if g.MagicRollback == nil {
		g.MagicRollback = other.MagicRollback
	}
	if g.RemoteBuild == nil {
		g.RemoteBuild = other.RemoteBuild
	}
	if g.SudoPrefix == nil {
		g.SudoPrefix = other.SudoPrefix
	}
	g.SSHOpts = append(g.SSHOpts, other.SSHOpts...)
}

// Merge4 implements the precedence chain of spec.md §4.1: command-line
// overrides, then profile, then node, then root — each one only filling
// in gaps left by the more specific level, with ssh-opts concatenated in
// that same order (cmd, profile, node, root).
func Merge4(cmd, profile, node, root GenericSettings) GenericSettings {
	merged := GenericSettings{}
	merged.mergeInto(cmd)
	merged.mergeInto(profile)
	merged.mergeInto(node)
	merged.mergeInto(root)
	return merged
}

// ConfirmTimeoutOrDefault returns the confirm-timeout in seconds, falling
// back to DefaultConfirmTimeout when unset.
func (g GenericSettings) ConfirmTimeoutOrDefault() int {
	if g.ConfirmTimeout != nil {
		return *g.ConfirmTimeout
	}
	return DefaultConfirmTimeout
}

// ActivationTimeoutOrDefault returns the activation-timeout in seconds,
// falling back to DefaultActivationTimeout when unset.
func (g GenericSettings) ActivationTimeoutOrDefault() int {
	if g.ActivationTimeout != nil {
		return *g.ActivationTimeout
	}
	return DefaultActivationTimeout
}

// TempPathOrDefault returns the remote scratch directory, falling back to
// DefaultTempPath when unset.
func (g GenericSettings) TempPathOrDefault() string {
	if g.TempPath != nil {
		return *g.TempPath
	}
	return DefaultTempPath
}

// MagicRollbackOrDefault reports whether the magic-rollback protocol is
// enabled; the protocol is opt-out, so unset means true.
func (g GenericSettings) MagicRollbackOrDefault() bool {
	if g.MagicRollback != nil {
		return *g.MagicRollback
	}
	return true
}

// AutoRollbackOrDefault reports whether a failed unit triggers revocation
// of earlier-succeeded units; unset means true.
func (g GenericSettings) AutoRollbackOrDefault() bool {
	if g.AutoRollback != nil {
		return *g.AutoRollback
	}
	return true
}

// ProfileSettings is a profile's store path and optional explicit symlink
// path — data.rs's ProfileSettings.
type ProfileSettings struct {
	Path        string  `json:"path"`
	ProfilePath *string `json:"profilePath,omitempty"`
}

// Profile is one deployable unit within a node. The embedded structs are
// anonymous so encoding/json promotes their fields into the same JSON
// object, matching the flattened shape the evaluator emits (the Rust side
// used #[serde(flatten)] for the same effect).
type Profile struct {
	ProfileSettings
	GenericSettings
}

// Node is a target machine: its hostname, node-level generic settings, and
// its named profiles plus their priority order.
type Node struct {
	Hostname      *string            `json:"hostname,omitempty"`
	Profiles      map[string]Profile `json:"profiles"`
	ProfilesOrder []string           `json:"profilesOrder,omitempty"`
	GenericSettings
}

// Root is the whole deployment description returned by the evaluator.
type Root struct {
	Nodes map[string]Node `json:"nodes"`
	GenericSettings
}

// OrderedProfileNames returns profile names in profiles-order-then-remaining
// order, matching spec.md §4.1 and the teacher-adjacent `cli.rs`
// `run_deploy`'s "profiles_order then keys not already listed" logic.
func (n Node) OrderedProfileNames() []string {
	seen := make(map[string]struct{}, len(n.Profiles))
	ordered := make([]string, 0, len(n.Profiles))
	for _, name := range n.ProfilesOrder {
		if _, ok := n.Profiles[name]; !ok {
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		ordered = append(ordered, name)
	}
	for name := range n.Profiles {
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		ordered = append(ordered, name)
	}
	return ordered
}
