package agent

import (
	"os"
	"os/signal"
	"syscall"

	"rollout/m/v2/internal/rlog"
)

// IgnoreSIGHUP starts a background goroutine that consumes and logs
// SIGHUP instead of letting the process die when its SSH session drops —
// the only OS-signal interaction the core requires, per spec.md §9.
func IgnoreSIGHUP(log *rlog.Logger) {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGHUP)
	go func() {
		for range sig {
			log.Debug("received SIGHUP, ignoring")
		}
	}()
}
