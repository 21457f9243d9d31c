// Package propagator runs the release pipeline: bump the manifest, commit,
// tag, read the latest tag back and notify the downstream repository.
package propagator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nickromney-org/release-propagator/internal/config"
	"github.com/nickromney-org/release-propagator/internal/failure"
	"github.com/nickromney-org/release-propagator/internal/git"
	"github.com/nickromney-org/release-propagator/internal/github"
	"github.com/nickromney-org/release-propagator/internal/logging"
	"github.com/nickromney-org/release-propagator/internal/manifest"
	"github.com/nickromney-org/release-propagator/internal/version"
	"github.com/nickromney-org/release-propagator/pkg/types"
)

// Repository defines the version-control operations a run needs
type Repository interface {
	Path() string
	CommitIfChanged(ctx context.Context, message string, push bool) (*git.CommitResult, error)
	CreateAndPushTag(ctx context.Context, v version.Version, targetRef string) (*git.TagResult, error)
	LatestTag() (string, error)
}

// Config holds per-run settings
type Config struct {
	Manifest      string // relative to the repository root
	TargetRef     string // tag target; empty means HEAD
	CommitMessage string // template, {version} is substituted
	Downstream    string // owner/repo or GitHub URL
	DryRun        bool
}

// Validate checks if the configuration is valid
func (c Config) Validate() error {
	if c.DryRun {
		return nil
	}
	if c.Downstream == "" {
		return fmt.Errorf("downstream repository is required")
	}
	if _, err := config.ParseRepositoryString(c.Downstream); err != nil {
		return fmt.Errorf("invalid downstream repository: %w", err)
	}
	return nil
}

// Propagator performs release runs against one working tree
type Propagator struct {
	repo       Repository
	dispatcher github.Dispatcher
	config     Config
	log        *logging.Logger
	newRunID   func() string
	now        func() time.Time
}

// New creates a propagator. log may be nil.
func New(repo Repository, dispatcher github.Dispatcher, cfg Config, log *logging.Logger) (*Propagator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logging.Nop()
	}
	return &Propagator{
		repo:       repo,
		dispatcher: dispatcher,
		config:     cfg,
		log:        log.WithComponent("propagator"),
		newRunID:   uuid.NewString,
		now:        time.Now,
	}, nil
}

// Run executes the pipeline once for event. Steps run strictly in order and
// the first failure stops the run; nothing already pushed is rolled back.
// The returned Result is non-nil even on failure and records how far the run
// got.
func (p *Propagator) Run(ctx context.Context, event types.ReleaseEvent) (*Result, error) {
	result := &Result{
		RunID:     p.newRunID(),
		Requested: event.Version,
		DryRun:    p.config.DryRun,
		StartedAt: p.now(),
	}
	log := p.log.WithRun(result.RunID)
	log.Info().Str("version", event.Version).Bool("dry_run", p.config.DryRun).Msg("Starting release run")

	err := p.run(ctx, log, event, result)
	result.FinishedAt = p.now()
	if err != nil {
		log.Error().Err(err).Str("step", result.FailedStep).Str("kind", string(failure.KindOf(err))).Msg("Release run failed")
		return result, err
	}

	log.Info().Str("latest", result.LatestTag).Str("downstream", result.Downstream).Msg("Release run complete")
	return result, nil
}

func (p *Propagator) run(ctx context.Context, log *logging.Logger, event types.ReleaseEvent, result *Result) error {
	v, err := version.Parse(event.Version)
	if err != nil {
		return result.fail(failure.StepValidate, err)
	}
	result.Version = v.String()
	result.record(failure.StepValidate, OutcomeDone)
	if v.IsPrerelease() {
		log.Info().Str("version", v.String()).Msg("Releasing a pre-release version")
	}

	update, err := manifest.UpdateVersion(p.repo.Path(), p.config.Manifest, v)
	if err != nil {
		return result.fail(failure.StepManifest, err)
	}
	result.Manifest = update
	result.record(failure.StepManifest, Outcome(update.Outcome))
	if v.IsDowngradeFrom(update.Previous) {
		log.Warn().Str("previous", update.Previous).Str("version", v.String()).Msg("New version is lower than the manifest version")
	}
	log.Info().Str("path", update.Path).Str("outcome", string(update.Outcome)).Str("previous", update.Previous).Msg("Manifest checked")

	if p.config.DryRun {
		for _, step := range []string{failure.StepCommit, failure.StepTag, failure.StepLatest, failure.StepDispatch} {
			result.record(step, OutcomeSkipped)
		}
		log.Info().Msg("Dry run, skipping commit, tag and dispatch")
		return nil
	}

	message := renderMessage(p.config.CommitMessage, v.String())
	commit, err := p.repo.CommitIfChanged(ctx, message, true)
	result.Commit = commit
	if err != nil {
		return result.fail(failure.StepCommit, err)
	}
	result.record(failure.StepCommit, Outcome(commit.Outcome))

	tag, err := p.repo.CreateAndPushTag(ctx, v, p.config.TargetRef)
	result.Tag = tag
	if err != nil {
		return result.fail(failure.StepTag, err)
	}
	result.record(failure.StepTag, OutcomeCreated)

	latest, err := p.repo.LatestTag()
	if err != nil {
		return result.fail(failure.StepLatest, err)
	}
	result.LatestTag = latest
	result.record(failure.StepLatest, OutcomeDone)
	if latest != v.String() {
		log.Warn().Str("latest", latest).Str("version", v.String()).Msg("Latest tag differs from the released version")
	}

	downstream, err := config.ParseRepositoryString(p.config.Downstream)
	if err != nil {
		return result.fail(failure.StepDispatch, err)
	}
	result.Downstream = downstream.FullName()
	if err := p.dispatcher.DispatchRelease(ctx, downstream.Owner, downstream.Repo, latest); err != nil {
		return result.fail(failure.StepDispatch, err)
	}
	result.Dispatched = &types.DispatchEvent{
		Repository: downstream.FullName(),
		EventType:  eventType(p.dispatcher),
		Version:    latest,
	}
	result.record(failure.StepDispatch, OutcomeDelivered)
	log.Info().Str("repository", downstream.FullName()).Str("version", latest).Msg("Dispatched release event")

	return nil
}

func renderMessage(tmpl, v string) string {
	cfg := config.Config{Commit: config.CommitConfig{Message: tmpl}}
	return cfg.CommitMessage(v)
}

func eventType(d github.Dispatcher) string {
	if c, ok := d.(*github.Client); ok && c.EventType != "" {
		return c.EventType
	}
	return github.DefaultEventType
}
