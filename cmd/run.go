package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/nickromney-org/release-propagator/internal/event"
	"github.com/nickromney-org/release-propagator/internal/failure"
	"github.com/nickromney-org/release-propagator/internal/git"
	"github.com/nickromney-org/release-propagator/internal/github"
	"github.com/nickromney-org/release-propagator/internal/propagator"
	"github.com/nickromney-org/release-propagator/pkg/types"
	"github.com/spf13/cobra"
)

var (
	releaseVersion string
	eventPath      string
	targetRef      string
	dryRun         bool
	jsonOutput     bool
	ciOutput       bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the full release pipeline once",
	Long: `Run the release pipeline once: update the manifest, commit and push,
create and push the tag, read the latest tag and dispatch it downstream.

The release version comes from --version, or from an event document given by
--event-path (defaulting to $GITHUB_EVENT_PATH). Both a bare {"version": ...}
payload and a repository_dispatch event are accepted.`,
	Example: `  release-propagator run --version 2.3.0 --downstream acme/docs
  release-propagator run --event-path event.json --json
  release-propagator run --clone-url https://github.com/acme/lib.git --version 2.3.0 --ci`,
	RunE: runRelease,
}

func init() {
	runCmd.Flags().StringVar(&releaseVersion, "version", "", "release version (e.g., 2.3.0)")
	runCmd.Flags().StringVar(&eventPath, "event-path", "", "path to the release event JSON (default: $GITHUB_EVENT_PATH)")
	runCmd.Flags().StringVar(&targetRef, "target", "", "revision the tag points at (default: HEAD)")
	runCmd.Flags().BoolVar(&dryRun, "dry-run", false, "rewrite the manifest only; no commit, tag, push or dispatch")
	runCmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	runCmd.Flags().BoolVar(&ciOutput, "ci", false, "format output for CI/GitHub Actions")
	addRepoFlags(runCmd)
	addDownstreamFlags(runCmd)
	runCmd.Flags().String("clone-url", "", "clone this URL into a temporary directory instead of using --repo")
	runCmd.Flags().String("git-token", "", "token for git push over HTTPS (or PROPAGATOR_GIT_AUTH_TOKEN)")
}

func addRepoFlags(cmd *cobra.Command) {
	cmd.Flags().String("repo", "", "path to the repository working tree (default: .)")
	cmd.Flags().String("manifest", "", "manifest file relative to the repository (default: pyproject.toml)")
	cmd.Flags().String("branch", "", "branch to clone with --clone-url (default: remote HEAD)")
}

func addDownstreamFlags(cmd *cobra.Command) {
	cmd.Flags().String("downstream", "", "downstream repository to notify (owner/repo or URL)")
	cmd.Flags().StringP("token", "t", "", "GitHub token for the dispatch (or GITHUB_TOKEN env var)")
	cmd.Flags().String("event-type", "", "repository dispatch event type (default: release)")
	cmd.Flags().String("api-url", "", "GitHub API base URL for GitHub Enterprise")
}

func runRelease(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	ev, err := resolveEvent()
	if err != nil {
		return report(cmd, nil, failure.AtStep(failure.StepValidate, err))
	}

	repo, cleanup, err := openRepository(ctx)
	if err != nil {
		return report(cmd, nil, err)
	}
	defer cleanup()

	dispatcher, err := newDispatcher()
	if err != nil {
		return report(cmd, nil, err)
	}

	p, err := propagator.New(repo, dispatcher, propagatorConfig(), logger)
	if err != nil {
		return report(cmd, nil, err)
	}

	result, err := p.Run(ctx, ev)
	if err != nil {
		return report(cmd, result, err)
	}

	switch {
	case jsonOutput:
		return outputJSON(out, result)
	case ciOutput:
		return outputCI(out, result)
	default:
		return outputTerminal(out, result)
	}
}

// report renders a failed run in the selected output mode and marks the
// error as shown
func report(cmd *cobra.Command, result *propagator.Result, err error) error {
	if result == nil {
		result = &propagator.Result{
			Requested:  releaseVersion,
			FailedStep: failure.StepOf(err),
			Kind:       failure.KindOf(err),
			Error:      err.Error(),
		}
	}
	out := cmd.OutOrStdout()
	switch {
	case jsonOutput:
		_ = outputJSON(out, result)
	case ciOutput:
		_ = outputCI(out, result)
	}
	printFailure(cmd.ErrOrStderr(), err)
	return reportedError{err}
}

func resolveEvent() (types.ReleaseEvent, error) {
	if releaseVersion != "" {
		return event.FromVersion(releaseVersion)
	}
	path := eventPath
	if path == "" {
		path = os.Getenv("GITHUB_EVENT_PATH")
	}
	if path == "" {
		return types.ReleaseEvent{}, fmt.Errorf("no release version: use --version or --event-path")
	}
	ev, err := event.ParseFile(path)
	if err == nil {
		releaseVersion = ev.Version
	}
	return ev, err
}

// openRepository opens repo.path, or clones repo.clone_url into a temporary
// directory that cleanup removes
func openRepository(ctx context.Context) (*git.Client, func(), error) {
	opts := gitOptions()
	if cfg.Repo.CloneURL == "" {
		client, err := git.Open(cfg.Repo.Path, opts)
		return client, func() {}, err
	}

	dir, err := os.MkdirTemp("", "release-propagator-*")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create workspace: %w", err)
	}
	cleanup := func() { _ = os.RemoveAll(dir) }

	client, err := git.Clone(ctx, cfg.Repo.CloneURL, dir, cfg.Repo.Branch, opts)
	if err != nil {
		cleanup()
		return nil, nil, failure.AtStep(failure.StepClone, err)
	}
	return client, cleanup, nil
}

func gitOptions() git.Options {
	auth := &git.AuthConfig{
		Type:     cfg.Git.Auth.Type,
		Token:    cfg.Git.Auth.Token,
		Username: cfg.Git.Auth.Username,
		Password: cfg.Git.Auth.Password,
		KeyPath:  cfg.Git.Auth.KeyPath,
	}
	if auth.Type == "token" {
		auth.Token = detectGitHubToken(auth.Token)
	}
	return git.Options{
		Remote:      cfg.Git.Remote,
		AuthorName:  cfg.Git.AuthorName,
		AuthorEmail: cfg.Git.AuthorEmail,
		Auth:        auth,
		Logger:      logger.WithComponent("git"),
	}
}

func newDispatcher() (*github.Client, error) {
	client, err := github.NewClient(detectGitHubToken(cfg.Downstream.Token), cfg.Downstream.APIURL)
	if err != nil {
		return nil, err
	}
	if cfg.Downstream.EventType != "" {
		client.EventType = cfg.Downstream.EventType
	}
	return client, nil
}

func propagatorConfig() propagator.Config {
	return propagator.Config{
		Manifest:      cfg.Repo.Manifest,
		TargetRef:     targetRef,
		CommitMessage: cfg.Commit.Message,
		Downstream:    cfg.Downstream.Repository,
		DryRun:        dryRun,
	}
}
