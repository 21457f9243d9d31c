package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/nickromney-org/release-propagator/internal/server"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Listen for repository_dispatch webhooks and run releases",
	Long: `Listen for GitHub repository_dispatch webhooks with action "release".

Each accepted event is queued and run by a single worker in a fresh clone of
repo.clone_url, so runs never overlap. Prometheus metrics are served on
server.metrics_path.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.Repo.CloneURL == "" {
			return fmt.Errorf("serve requires repo.clone_url (--clone-url)")
		}
		if cfg.Server.Secret == "" {
			logger.Warn().Msg("server.secret is empty, webhook signatures are not verified")
		}

		dispatcher, err := newDispatcher()
		if err != nil {
			return err
		}
		pcfg := propagatorConfig()
		if err := pcfg.Validate(); err != nil {
			return err
		}

		runner := &server.CloneRunner{
			CloneURL:   cfg.Repo.CloneURL,
			Branch:     cfg.Repo.Branch,
			Git:        gitOptions(),
			Dispatcher: dispatcher,
			Config:     pcfg,
			Logger:     logger,
		}
		srv := server.New(server.Options{
			Addr:        cfg.Server.Addr,
			Path:        cfg.Server.Path,
			MetricsPath: cfg.Server.MetricsPath,
			Secret:      cfg.Server.Secret,
			ReadTimeout: cfg.Server.ReadTimeout,
			QueueSize:   cfg.Server.QueueSize,
		}, runner, logger)

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return srv.ListenAndServe(ctx)
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration with secrets redacted",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := yaml.Marshal(cfg.Redacted())
		if err != nil {
			return fmt.Errorf("failed to encode config: %w", err)
		}
		_, err = cmd.OutOrStdout().Write(data)
		return err
	},
}

func init() {
	serveCmd.Flags().String("addr", "", "listen address (default: :8080)")
	serveCmd.Flags().String("secret", "", "webhook secret (or PROPAGATOR_SERVER_SECRET)")
	serveCmd.Flags().String("clone-url", "", "repository to clone for each run")
	serveCmd.Flags().String("branch", "", "branch to clone (default: remote HEAD)")
	serveCmd.Flags().String("manifest", "", "manifest file relative to the repository (default: pyproject.toml)")
	serveCmd.Flags().String("git-token", "", "token for git push over HTTPS (or PROPAGATOR_GIT_AUTH_TOKEN)")
	addDownstreamFlags(serveCmd)
}
