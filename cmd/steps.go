package cmd

import (
	"fmt"

	"github.com/nickromney-org/release-propagator/internal/config"
	"github.com/nickromney-org/release-propagator/internal/failure"
	"github.com/nickromney-org/release-propagator/internal/git"
	"github.com/nickromney-org/release-propagator/internal/manifest"
	"github.com/nickromney-org/release-propagator/internal/version"
	"github.com/spf13/cobra"
)

var bumpCmd = &cobra.Command{
	Use:   "bump VERSION",
	Short: "Rewrite the manifest version without committing",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		v, err := version.Parse(args[0])
		if err != nil {
			return failure.AtStep(failure.StepValidate, err)
		}

		update, err := manifest.UpdateVersion(cfg.Repo.Path, cfg.Repo.Manifest, v)
		if err != nil {
			return failure.AtStep(failure.StepManifest, err)
		}

		out := cmd.OutOrStdout()
		if update.Outcome == manifest.Unchanged {
			yellow.Fprintf(out, "%s already at %s\n", update.Path, update.Current)
			return nil
		}
		if v.IsDowngradeFrom(update.Previous) {
			yellow.Fprintf(out, "⚠️  %s is lower than %s\n", update.Current, update.Previous)
		}
		green.Fprintf(out, "✅ %s: %s → %s\n", update.Path, update.Previous, version.Format(v))
		return nil
	},
}

var latestTagCmd = &cobra.Command{
	Use:   "latest-tag",
	Short: "Print the most recently created tag without its v prefix",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := git.Open(cfg.Repo.Path, git.Options{Logger: logger.WithComponent("git")})
		if err != nil {
			return err
		}
		latest, err := client.LatestTag()
		if err != nil {
			return failure.AtStep(failure.StepLatest, err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), latest)
		return nil
	},
}

var dispatchCmd = &cobra.Command{
	Use:   "dispatch VERSION",
	Short: "Send a release repository dispatch to the downstream repository",
	Example: `  release-propagator dispatch 2.3.0 --downstream acme/docs
  release-propagator dispatch 2.3.0 --downstream https://ghe.example.com/acme/docs --api-url https://ghe.example.com`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		bare := version.StripTagPrefix(args[0])
		if _, err := version.Parse(bare); err != nil {
			return failure.AtStep(failure.StepValidate, err)
		}

		if cfg.Downstream.Repository == "" {
			return fmt.Errorf("downstream repository is required (--downstream or downstream.repository)")
		}
		target, err := config.ParseRepositoryString(cfg.Downstream.Repository)
		if err != nil {
			return err
		}

		client, err := newDispatcher()
		if err != nil {
			return err
		}
		if err := client.DispatchRelease(cmd.Context(), target.Owner, target.Repo, bare); err != nil {
			return failure.AtStep(failure.StepDispatch, err)
		}

		green.Fprintf(cmd.OutOrStdout(), "✅ Dispatched %q with version %s to %s\n", client.EventType, bare, target.FullName())
		return nil
	},
}

func init() {
	addRepoFlags(bumpCmd)
	latestTagCmd.Flags().String("repo", "", "path to the repository working tree (default: .)")
	addDownstreamFlags(dispatchCmd)
}
