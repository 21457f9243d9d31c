package server

import (
	"context"
	"fmt"
	"os"

	"github.com/nickromney-org/release-propagator/internal/failure"
	"github.com/nickromney-org/release-propagator/internal/git"
	"github.com/nickromney-org/release-propagator/internal/github"
	"github.com/nickromney-org/release-propagator/internal/logging"
	"github.com/nickromney-org/release-propagator/internal/propagator"
	"github.com/nickromney-org/release-propagator/pkg/types"
)

// Runner executes one release run
type Runner interface {
	Run(ctx context.Context, event types.ReleaseEvent) (*propagator.Result, error)
}

// CloneRunner runs every release in a fresh clone that is removed afterwards,
// so runs never share a working tree
type CloneRunner struct {
	CloneURL   string
	Branch     string
	Git        git.Options
	Dispatcher github.Dispatcher
	Config     propagator.Config
	Logger     *logging.Logger
	TempDir    string // parent for clones; empty uses the OS default
}

// Run clones the repository, runs the pipeline and cleans up
func (c *CloneRunner) Run(ctx context.Context, event types.ReleaseEvent) (*propagator.Result, error) {
	log := c.Logger
	if log == nil {
		log = logging.Nop()
	}

	dir, err := os.MkdirTemp(c.TempDir, "release-propagator-*")
	if err != nil {
		return propagator.Aborted(event.Version, failure.StepClone, fmt.Errorf("failed to create workspace: %w", err))
	}
	defer func() {
		if err := os.RemoveAll(dir); err != nil {
			log.Warn().Err(err).Str("dir", dir).Msg("Failed to remove workspace")
		}
	}()

	gitOpts := c.Git
	if gitOpts.Logger == nil {
		gitOpts.Logger = log.WithComponent("git")
	}
	client, err := git.Clone(ctx, c.CloneURL, dir, c.Branch, gitOpts)
	if err != nil {
		return propagator.Aborted(event.Version, failure.StepClone, err)
	}
	log.Debug().Str("url", c.CloneURL).Str("dir", dir).Msg("Cloned repository")

	p, err := propagator.New(client, c.Dispatcher, c.Config, log)
	if err != nil {
		return propagator.Aborted(event.Version, failure.StepValidate, err)
	}
	return p.Run(ctx, event)
}
