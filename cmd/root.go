package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	colour "github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/nickromney-org/release-propagator/internal/config"
	"github.com/nickromney-org/release-propagator/internal/logging"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

var (
	configFile  string
	envFile     string
	logLevel    string
	logFormat   string
	showVersion bool

	// Resolved in PersistentPreRunE
	cfg    *config.Config
	logger *logging.Logger

	// Version information (set via SetVersionInfo from main)
	appVersion = "dev"
	buildTime  = "unknown"
	gitCommit  = "unknown"

	// Colours for output
	green  = colour.New(colour.FgGreen, colour.Bold)
	yellow = colour.New(colour.FgYellow, colour.Bold)
	red    = colour.New(colour.FgRed, colour.Bold)
	cyan   = colour.New(colour.FgCyan)
	grey   = colour.New(colour.FgHiBlack) // Faint grey for timestamps
)

// flagKeys maps command-line flags onto configuration keys. Only flags
// defined on the running command are bound.
var flagKeys = map[string]string{
	"repo":       "repo.path",
	"manifest":   "repo.manifest",
	"branch":     "repo.branch",
	"clone-url":  "repo.clone_url",
	"downstream": "downstream.repository",
	"token":      "downstream.token",
	"event-type": "downstream.event_type",
	"api-url":    "downstream.api_url",
	"git-token":  "git.auth.token",
	"addr":       "server.addr",
	"secret":     "server.secret",
	"log-level":  "logging.level",
	"log-format": "logging.format",
}

// reportedError marks an error that has already been shown to the user
type reportedError struct{ err error }

func (e reportedError) Error() string { return e.err.Error() }
func (e reportedError) Unwrap() error { return e.err }

// SetVersionInfo sets the version information from the main package
func SetVersionInfo(version, build, commit string) {
	appVersion = version
	buildTime = build
	gitCommit = commit
}

var rootCmd = &cobra.Command{
	Use:   "release-propagator",
	Short: "Propagate a release through a repository and notify downstream",
	Long: `Propagate a release event through a repository.

Given a semantic version, release-propagator rewrites the version in the
project manifest, commits and pushes the change, creates and pushes the
annotated tag v<version>, reads back the most recently created tag and sends
a "release" repository dispatch carrying that version to a downstream
repository.`,
	Example: `  # Release 2.3.0 from the current checkout and notify acme/docs
  release-propagator run --version 2.3.0 --downstream acme/docs

  # Use the event that triggered a GitHub Actions workflow
  release-propagator run --event-path "$GITHUB_EVENT_PATH" --ci

  # Preview the manifest change only
  release-propagator run --version 2.3.0 --dry-run

  # Print the most recently created tag
  release-propagator latest-tag`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setup,
	RunE: func(cmd *cobra.Command, args []string) error {
		if showVersion {
			printVersion(cmd.OutOrStdout())
			return nil
		}
		return cmd.Help()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (default: propagator.yaml in the config directory or .)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "load environment variables from a dotenv file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", config.DefaultLogLevel, "log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", config.DefaultLogFormat, "log format (pretty, json)")
	rootCmd.Flags().BoolVar(&showVersion, "version", false, "show version information")

	rootCmd.AddCommand(runCmd, bumpCmd, latestTagCmd, dispatchCmd, serveCmd, configCmd)
}

// Execute runs the root command. Errors not already reported by a command
// are printed in red on stderr.
func Execute() error {
	err := rootCmd.Execute()
	if err != nil {
		var reported reportedError
		if !errors.As(err, &reported) {
			printFailure(rootCmd.ErrOrStderr(), err)
		}
	}
	return err
}

func setup(cmd *cobra.Command, args []string) error {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return fmt.Errorf("failed to load env file %s: %w", envFile, err)
		}
	}

	bindFlags(viper.GetViper(), cmd.Flags())

	loaded, err := config.Load(configFile)
	if err != nil {
		return err
	}
	cfg = loaded

	logger = logging.NewLogger(logging.LoggerOptions{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cmd.ErrOrStderr(),
	})
	logger.Debug().Str("command", cmd.Name()).Str("config", viper.ConfigFileUsed()).Msg("Configuration loaded")
	return nil
}

func bindFlags(v *viper.Viper, flags *pflag.FlagSet) {
	for name, key := range flagKeys {
		if f := flags.Lookup(name); f != nil {
			_ = v.BindPFlag(key, f)
		}
	}
}

func printVersion(w io.Writer) {
	fmt.Fprintf(w, "release-propagator %s\n", appVersion)
	fmt.Fprintf(w, "Build time: %s\n", buildTime)
	fmt.Fprintf(w, "Git commit: %s\n", gitCommit)
}

// printFailure writes "✗ <step>: <Kind>: <detail>" in red
func printFailure(w io.Writer, err error) {
	red.Fprintf(w, "✗ %v\n", err)
}

// detectGitHubToken attempts to find a GitHub token from multiple sources
func detectGitHubToken(providedToken string) string {
	// 1. Use explicitly provided token (flag, config file or PROPAGATOR_* env)
	if providedToken != "" {
		return providedToken
	}

	// 2. GITHUB_TOKEN is automatically available in GitHub Actions
	if envToken := os.Getenv("GITHUB_TOKEN"); envToken != "" {
		return envToken
	}

	// 3. Try to get token from GitHub CLI
	ghToken, err := getGitHubCLIToken()
	if err == nil && ghToken != "" {
		return ghToken
	}

	// 4. No token found - dispatch will fail as Unauthorized
	return ""
}

// getGitHubCLIToken attempts to retrieve a token from the GitHub CLI
func getGitHubCLIToken() (string, error) {
	cmd := exec.Command("gh", "auth", "token")
	output, err := cmd.Output()
	if err != nil {
		return "", err
	}

	token := strings.TrimSpace(string(output))
	if token == "" {
		return "", fmt.Errorf("gh auth token returned empty")
	}

	return token, nil
}
