package checkpoint

import (
	"context"
	"os/exec"
	"strings"
	"time"
)

const gitTimeout = 10 * time.Second

// gitRevision returns the current HEAD revision of the repository at dir.
// Best-effort: absence of git or of a repository is a normal condition and
// reported as ok=false, never as an error.
func gitRevision(dir string) (rev string, ok bool) {
	ctx, cancel := context.WithTimeout(context.Background(), gitTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "git", "rev-parse", "HEAD")
	cmd.Dir = dir
	out, err := cmd.Output()
	if err != nil {
		return "", false
	}
	rev = strings.TrimSpace(string(out))
	return rev, rev != ""
}

// gitCheckout restores the working tree at dir to the given revision.
// Used as the rollback fallback when a backup archive is missing.
func gitCheckout(dir, revision string) error {
	ctx, cancel := context.WithTimeout(context.Background(), gitTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "git", "checkout", revision, "--", ".")
	cmd.Dir = dir
	return cmd.Run()
}
