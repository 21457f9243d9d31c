package git

import (
	"context"
	"fmt"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/nickromney-org/release-propagator/internal/failure"
)

// CommitOutcome is the result of CommitIfChanged
type CommitOutcome string

const (
	Committed CommitOutcome = "committed"
	NoOp      CommitOutcome = "noop"
)

// CommitResult describes a CommitIfChanged call
type CommitResult struct {
	Outcome CommitOutcome `json:"outcome"`
	Hash    string        `json:"hash,omitempty"`
	Branch  string        `json:"branch,omitempty"`
	Pushed  bool          `json:"pushed"`
}

// CommitIfChanged stages every change in the working tree and, if anything
// differs from HEAD, commits it with message and pushes the current branch.
// A clean tree is a no-op. When push is false the commit stays local.
func (c *Client) CommitIfChanged(ctx context.Context, message string, push bool) (*CommitResult, error) {
	wt, err := c.repo.Worktree()
	if err != nil {
		return nil, fmt.Errorf("failed to get worktree: %w", err)
	}

	if err := wt.AddWithOptions(&git.AddOptions{All: true}); err != nil {
		return nil, fmt.Errorf("failed to stage changes: %w", err)
	}

	status, err := wt.Status()
	if err != nil {
		return nil, fmt.Errorf("failed to read worktree status: %w", err)
	}
	if status.IsClean() {
		c.log.Debug().Msg("Working tree clean, nothing to commit")
		return &CommitResult{Outcome: NoOp}, nil
	}

	branch, err := c.CurrentBranch()
	if err != nil {
		return nil, err
	}

	hash, err := wt.Commit(message, &git.CommitOptions{Author: c.signature()})
	if err != nil {
		return nil, fmt.Errorf("failed to commit: %w", err)
	}
	c.log.Info().Str("commit", hash.String()[:8]).Str("branch", branch).Msg("Committed changes")

	result := &CommitResult{Outcome: Committed, Hash: hash.String(), Branch: branch}
	if !push {
		return result, nil
	}

	if err := c.PushBranch(ctx, branch); err != nil {
		return result, err
	}
	result.Pushed = true
	return result, nil
}

// PushBranch pushes refs/heads/<branch> to the configured remote. The push is
// never forced; a diverged remote yields a PushRejected failure.
func (c *Client) PushBranch(ctx context.Context, branch string) error {
	ref := "refs/heads/" + branch
	err := c.repo.PushContext(ctx, &git.PushOptions{
		RemoteName: c.remote,
		RefSpecs:   []config.RefSpec{config.RefSpec(ref + ":" + ref)},
		Auth:       c.auth,
	})
	if err := classifyTransportError("push", c.remote+"/"+branch, err, failure.KindPushFailed); err != nil {
		return err
	}
	c.log.Info().Str("remote", c.remote).Str("branch", branch).Msg("Pushed branch")
	return nil
}
