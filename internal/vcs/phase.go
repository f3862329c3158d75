package vcs

import "context"

// Driver implements phase.VCS: the per-item branch/commit/PR operations the
// PR phase drives. Each call is scoped to the repoRoot the caller passes in
// (an item's checked-out working tree), not any state held on Driver itself.
type Driver struct{}

// NewDriver constructs a Driver.
func NewDriver() *Driver { return &Driver{} }

// EnsureBranch checks out branch, creating it from baseBranch if it doesn't
// exist yet.
func (d *Driver) EnsureBranch(ctx context.Context, repoRoot, branch, baseBranch string) error {
	if branchExists(ctx, repoRoot, branch) {
		_, err := runGit(ctx, repoRoot, "checkout", branch)
		return err
	}
	if _, err := runGit(ctx, repoRoot, "fetch", "origin", baseBranch); err != nil {
		// A missing remote/offline fetch isn't fatal; branching off the
		// local ref still works for a freshly initialized repository.
		_, _ = runGit(ctx, repoRoot, "rev-parse", "--verify", baseBranch)
	}
	_, err := runGit(ctx, repoRoot, "checkout", "-b", branch, baseBranch)
	return err
}

// WorkingTreeDirty reports whether repoRoot has uncommitted changes.
func (d *Driver) WorkingTreeDirty(ctx context.Context, dir string) (bool, error) {
	return workingTreeDirty(ctx, dir)
}

// Commit stages everything under repoRoot and commits it with message.
func (d *Driver) Commit(ctx context.Context, repoRoot, message string) error {
	if _, err := runGit(ctx, repoRoot, "add", "-A"); err != nil {
		return err
	}
	_, err := runGit(ctx, repoRoot, "commit", "-m", message)
	return err
}

// CreatePR pushes branch and opens a pull request against baseBranch via
// the gh CLI, returning the PR number gh reports.
func (d *Driver) CreatePR(ctx context.Context, repoRoot, branch, baseBranch, title, body string) (int, error) {
	if _, err := runGit(ctx, repoRoot, "push", "-u", "origin", branch); err != nil {
		return 0, err
	}
	out, err := runGH(ctx, repoRoot, "pr", "create",
		"--base", baseBranch, "--head", branch,
		"--title", title, "--body", body,
		"--json", "number", "-q", ".number")
	if err != nil {
		return 0, err
	}
	return parsePRNumber(out)
}
