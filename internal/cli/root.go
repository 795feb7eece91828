// Package cli provides the command-line interface for megadl.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/rescale/megadl/internal/config"
	"github.com/rescale/megadl/internal/fips"
	"github.com/rescale/megadl/internal/logging"
	"github.com/rescale/megadl/internal/version"
)

var (
	// Global flags
	cfgFile    string
	apiBaseURL string
	verbose    bool
	debug      bool
	logFormat  string

	// Global logger
	logger *logging.Logger

	// Global context for signal handling
	rootContext context.Context
	cancelFunc  context.CancelFunc
)

// NewRootCmd creates the root command.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "megadl",
		Short: "Download and decrypt public Mega.nz file links",
		Long: `megadl ` + version.Version + ` - Built: ` + version.BuildTime + ` ` + fips.Status() + `
Resolves public Mega.nz file links, streams the encrypted body and
decrypts it on the fly into a local file, an S3 object or an Azure blob.

Both link forms are accepted:
  https://mega.nz/file/ID#KEY
  https://mega.nz/#!ID!KEY`,
		SilenceUsage:      true,
		PersistentPreRunE: setupLogging,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&cfgFile, "config", "c", "", "Configuration file path")
	flags.StringVar(&apiBaseURL, "api-url", "", "Mega API base URL (overrides config)")
	flags.BoolVarP(&verbose, "verbose", "v", false, "Verbose output (shows debug messages)")
	flags.BoolVar(&debug, "debug", false, "Trace output: --verbose plus every HTTP attempt")
	flags.StringVar(&logFormat, "log-format", "console", "Log format: console or json (env MEGADL_LOG_FORMAT)")

	rootCmd.Version = version.String() + " " + fips.Status()
	rootCmd.AddCommand(newCompletionCmd(rootCmd))
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	return rootCmd
}

// setupLogging builds the CLI logger from --log-format, --verbose and --debug.
func setupLogging(cmd *cobra.Command, _ []string) error {
	logger = logging.NewDefaultCLILogger()
	if cmd.Flags().Changed("log-format") {
		format, err := logging.ParseFormat(logFormat)
		if err != nil {
			return err
		}
		logger = logging.New(os.Stdout, format)
	}
	logger.SetAsGlobal()
	logging.SetGlobalLevel(logging.LevelFor(verbose, debug))
	logger.Debug().Bool("fips", fips.Enabled()).Str("version", version.Version).Msg("starting")
	return nil
}

func newCompletionCmd(root *cobra.Command) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "completion [bash|zsh|fish|powershell]",
		Short: "Generate shell completion scripts",
		Long: `Generate shell completion scripts for megadl.

Load into the current session:
  bash:       source <(megadl completion bash)
  zsh:        source <(megadl completion zsh)
  fish:       megadl completion fish | source
  powershell: megadl completion powershell | Out-String | Invoke-Expression`,
	}

	generators := []struct {
		shell string
		gen   func(io.Writer) error
	}{
		{"bash", root.GenBashCompletion},
		{"zsh", root.GenZshCompletion},
		{"fish", func(w io.Writer) error { return root.GenFishCompletion(w, true) }},
		{"powershell", root.GenPowerShellCompletion},
	}
	for _, g := range generators {
		cmd.AddCommand(&cobra.Command{
			Use:   g.shell,
			Short: "Generate " + g.shell + " completion script",
			Args:  cobra.NoArgs,
			RunE: func(c *cobra.Command, _ []string) error {
				return g.gen(c.OutOrStdout())
			},
		})
	}
	return cmd
}

// Execute runs the CLI. SIGINT and SIGTERM cancel the root context;
// further signals are reported but do not kill the process mid-cleanup.
func Execute() error {
	rootContext, cancelFunc = context.WithCancel(context.Background())
	defer cancelFunc()

	stop := cancelOnSignal(cancelFunc)
	defer stop()

	rootCmd := NewRootCmd()
	AddCommands(rootCmd)
	return rootCmd.Execute()
}

func cancelOnSignal(cancel context.CancelFunc) (stop func()) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	done := make(chan struct{})

	go func() {
		for {
			select {
			case sig := <-sigs:
				fmt.Fprintf(os.Stderr, "\n\nReceived %v, cancelling downloads...\n", sig)
				cancel()
			case <-done:
				return
			}
		}
	}()

	return func() {
		signal.Stop(sigs)
		close(done)
	}
}

// AddCommands adds all subcommands to the root command.
func AddCommands(rootCmd *cobra.Command) {
	rootCmd.AddCommand(newDownloadCmd())
	rootCmd.AddCommand(newInfoCmd())
	rootCmd.AddCommand(newConfigCmd())
	rootCmd.AddCommand(newVersionCmd())
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version and FIPS status",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "megadl %s %s\n", version.String(), fips.Status())
		},
	}
}

// GetLogger returns the global CLI logger.
func GetLogger() *logging.Logger {
	if logger == nil {
		logger = logging.NewDefaultCLILogger()
	}
	return logger
}

// GetContext returns the global CLI context with signal handling.
// This context will be cancelled when the user presses Ctrl+C.
func GetContext() context.Context {
	if rootContext == nil {
		return context.Background()
	}
	return rootContext
}

// configPath returns --config or the default location.
func configPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	return config.GetDefaultConfigPath()
}

// loadConfig reads the config file and applies environment and flag overrides.
// Priority: flags > environment > config file > defaults
func loadConfig(outputDir, sinkKind string, maxConcurrent, maxRetries int) (*config.Config, error) {
	cfg, err := config.LoadConfigCSV(configPath())
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	cfg.MergeWithFlags(apiBaseURL, outputDir, sinkKind, maxConcurrent, maxRetries)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}
