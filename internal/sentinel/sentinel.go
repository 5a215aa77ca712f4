// Package sentinel implements the magic-rollback canary file: its path
// formula, and the two filesystem watches (await creation, await removal)
// that the agent's wait/activate subcommands race against a timeout.
//
// Grounded on original_source/src/lib.rs's make_lock_path and
// src/bin/activate.rs's activation_confirmation/wait, ported from
// notify/tokio::sync::mpsc onto fsnotify/context — the pack's
// fsnotify-carrying repos (gravitational-teleport, zmb3-teleport) are the
// only place in the corpus a filesystem watcher is wired at all.
package sentinel

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
)

const nixStorePrefix = "/nix/store/"

// ErrNoConfirmation is returned when the watcher's event channel closes
// before the expected event was observed, with no underlying watch error
// of its own — distinct from a genuine watch error (a permissions problem,
// an inotify limit, ...) and from a context timeout. Mirrors
// DangerZoneError::NoConfirmation from original_source/src/bin/activate.rs.
var ErrNoConfirmation = errors.New("watcher closed before confirmation")

// Path computes the canary file path for a closure under tempPath,
// matching lib.rs's make_lock_path byte for byte: strip the
// "/nix/store/" prefix from closure, then cut everything from the first
// '-' onward (the store hash is exactly the text before that dash).
func Path(tempPath, closure string) string {
	hash := strings.TrimPrefix(closure, nixStorePrefix)
	if i := strings.IndexByte(hash, '-'); i >= 0 {
		hash = hash[:i]
	}
	return fmt.Sprintf("%s/deploy-rs-canary-%s", tempPath, hash)
}

// Create creates the (empty) canary file at path, including any missing
// parent directories, matching activation_confirmation's
// create_dir_all+File::create pair.
func Create(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create canary parent directory: %w", err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create canary file: %w", err)
	}
	return f.Close()
}

// AwaitRemoval blocks until path is removed, ctx is cancelled, or an
// unexpected watch error occurs. Used by the agent's danger-zone timer:
// the controller deletes the canary to confirm the activation should
// stick.
func AwaitRemoval(ctx context.Context, path string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(path); err != nil {
		return fmt.Errorf("watch %s: %w", path, err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err, ok := <-watcher.Errors:
			if !ok {
				return ErrNoConfirmation
			}
			return fmt.Errorf("watch error: %w", err)
		case ev, ok := <-watcher.Events:
			if !ok {
				return ErrNoConfirmation
			}
			if ev.Op&fsnotify.Remove != 0 {
				return nil
			}
		}
	}
}

// AwaitCreation blocks until path appears inside tempPath, ctx is
// cancelled, or an unexpected watch error occurs. Mirrors activate.rs's
// wait(): the watch is armed on the parent directory (non-recursive)
// before the race-safe existence check, so a canary created between arm
// and check is never missed.
func AwaitCreation(ctx context.Context, tempPath, path string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(tempPath); err != nil {
		return fmt.Errorf("watch %s: %w", tempPath, err)
	}

	canonical, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve canary path: %w", err)
	}

	if _, err := os.Stat(canonical); err == nil {
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case werr, ok := <-watcher.Errors:
			if !ok {
				return ErrNoConfirmation
			}
			return fmt.Errorf("watch error: %w", werr)
		case ev, ok := <-watcher.Events:
			if !ok {
				return ErrNoConfirmation
			}
			if ev.Op&fsnotify.Create == 0 {
				continue
			}
			evPath, err := filepath.Abs(ev.Name)
			if err != nil {
				continue
			}
			if evPath == canonical {
				return nil
			}
		}
	}
}
