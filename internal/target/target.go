// Package target parses and resolves deployment targets: the
// `repo[#node[.profile]][@host]` strings given on the command line,
// expanded against a settings.Root into an ordered list of deployable
// units.
package target

import (
	"errors"
	"fmt"
	"strings"

	"rollout/m/v2/internal/errtax"
)

// Target is a parsed `repo[#node[.profile]][@host]` string, before
// expansion against the settings tree. Ported from
// original_source/src/data.rs's Target/FromStr, whose fragment grammar is
// a restricted Nix attribute path: bare identifiers or double-quoted
// strings, joined by `.`, at most two segments deep (node, then profile).
// Host is the `@host` override from spec.md §3/§4.1: only ever non-nil
// when Node is also non-nil.
type Target struct {
	Repo    string
	Node    *string
	Profile *string
	Host    *string
}

// ErrPathTooLong is returned when the fragment has more than two
// dot-separated segments, mirroring ParseTargetError::PathTooLong.
var ErrPathTooLong = errors.New("the given path was too long, did you mean to put something in quotes?")

// ErrUnrecognized is returned for a malformed fragment (an unterminated
// quote, or a stray token that isn't part of a bare or quoted identifier),
// mirroring ParseTargetError::Unrecognized.
var ErrUnrecognized = errors.New("unrecognized node or token encountered")

// ErrIPOnFlakeRoot is returned when a `@host` suffix is given at the
// flake-root form, with no explicit node, mirroring Resolve::IpOnFlakeRoot:
// "error if @host is supplied at the flake-root form (no node)" (spec.md
// §4.1).
var ErrIPOnFlakeRoot = errors.New("@host given without an explicit node")

// Parse parses a target string of the form `repo`, `repo#node`,
// `repo#node.profile`, or any of those with a trailing `@host`, where
// node/profile are bare or double-quoted identifiers.
func Parse(s string) (Target, error) {
	rest, host := splitHost(s)

	hashIdx := strings.IndexByte(rest, '#')
	var repo, fragment string
	if hashIdx < 0 {
		repo = rest
	} else {
		repo = rest[:hashIdx]
		fragment = rest[hashIdx+1:]
	}

	t := Target{Repo: repo, Host: host}

	if fragment != "" {
		segments, err := splitFragment(fragment)
		if err != nil {
			return Target{}, err
		}

		switch len(segments) {
		case 1:
			t.Node = &segments[0]
		case 2:
			t.Node = &segments[0]
			t.Profile = &segments[1]
		default:
			return Target{}, ErrPathTooLong
		}
	}

	if t.Host != nil && t.Node == nil {
		return Target{}, errtax.New(errtax.Resolution, errtax.KindIPOnFlakeRoot, ErrIPOnFlakeRoot)
	}

	return t, nil
}

// splitHost splits a trailing `@host` suffix off s, per spec.md §4's "the
// @host suffix, when present, is split off before attribute parsing".
func splitHost(s string) (string, *string) {
	at := strings.LastIndexByte(s, '@')
	if at < 0 {
		return s, nil
	}
	host := s[at+1:]
	return s[:at], &host
}

// splitFragment splits a fragment on top-level `.` characters, where a
// double-quoted segment's contents (which may itself contain dots, as in
// `"something.nix"`) are taken verbatim and do not introduce a split.
func splitFragment(fragment string) ([]string, error) {
	var segments []string
	i := 0
	for i < len(fragment) {
		var seg string
		var err error
		seg, i, err = readSegment(fragment, i)
		if err != nil {
			return nil, err
		}
		segments = append(segments, seg)

		if i >= len(fragment) {
			break
		}
		if fragment[i] != '.' {
			return nil, ErrUnrecognized
		}
		i++
		if i >= len(fragment) {
			return nil, ErrUnrecognized
		}
	}
	return segments, nil
}

func readSegment(fragment string, start int) (string, int, error) {
	if start >= len(fragment) {
		return "", start, ErrUnrecognized
	}

	if fragment[start] == '"' {
		end := strings.IndexByte(fragment[start+1:], '"')
		if end < 0 {
			return "", start, ErrUnrecognized
		}
		content := fragment[start+1 : start+1+end]
		return content, start + 1 + end + 1, nil
	}

	end := start
	for end < len(fragment) && fragment[end] != '.' {
		if !isIdentByte(fragment[end]) {
			return "", start, ErrUnrecognized
		}
		end++
	}
	if end == start {
		return "", start, ErrUnrecognized
	}
	return fragment[start:end], end, nil
}

func isIdentByte(b byte) bool {
	switch {
	case b >= 'a' && b <= 'z', b >= 'A' && b <= 'Z', b >= '0' && b <= '9':
		return true
	case b == '_' || b == '-':
		return true
	}
	return false
}

// String renders the target back to `repo[#node[.profile]][@host]` form.
func (t Target) String() string {
	s := t.Repo
	switch {
	case t.Node != nil && t.Profile != nil:
		s = fmt.Sprintf("%s#%s.%s", t.Repo, *t.Node, *t.Profile)
	case t.Node != nil:
		s = fmt.Sprintf("%s#%s", t.Repo, *t.Node)
	}
	if t.Host != nil {
		s = fmt.Sprintf("%s@%s", s, *t.Host)
	}
	return s
}
