package coordinator

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"

	"rollout/m/v2/internal/target"
)

// PreviewTable renders a table of (node, profile) -> {user, ssh_user,
// path, hostname}, grounded on original_source/src/cli.rs's
// print_deployment. SSH options are not shown.
func PreviewTable(units []target.Unit) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%-20s %-14s %-10s %-10s %-40s %s\n", "NODE", "PROFILE", "USER", "SSH USER", "PROFILE PATH", "HOST")
	for _, u := range units {
		fmt.Fprintf(&b, "%-20s %-14s %-10s %-10s %-40s %s\n",
			u.NodeName, u.ProfileName, u.ProfileUser, u.SSHUser, u.ProfilePath, u.Hostname)
	}
	return b.String()
}

// Confirm prompts the operator with a fuzzy yes/no, retrying on an
// ambiguous answer, matching cli.rs's prompt_deployment. When stdin isn't
// a terminal (term.IsTerminal reports false), Confirm treats a single
// unreadable line as "no" rather than looping forever, since there is no
// human to retry the prompt.
func Confirm(r io.Reader, w io.Writer) (bool, error) {
	scanner := bufio.NewScanner(r)
	interactiveTerminal := isTerminal(r)

	for attempt := 0; attempt < 3; attempt++ {
		fmt.Fprint(w, "Deploy this? [y/N]: ")
		if !scanner.Scan() {
			return false, nil
		}
		answer := strings.ToLower(strings.TrimSpace(scanner.Text()))
		switch answer {
		case "y", "yes":
			return true, nil
		case "n", "no", "":
			return false, nil
		default:
			fmt.Fprintf(w, "Please answer y or n.\n")
			if !interactiveTerminal {
				return false, nil
			}
		}
	}
	return false, fmt.Errorf("no unambiguous answer given after multiple attempts")
}

func isTerminal(r io.Reader) bool {
	f, ok := r.(*os.File)
	if !ok {
		return false
	}
	return term.IsTerminal(int(f.Fd()))
}
