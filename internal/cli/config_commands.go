package cli

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rescale/megadl/internal/config"
	"github.com/rescale/megadl/internal/constants"
)

// newConfigCmd creates the 'config' command group.
func newConfigCmd() *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Manage megadl configuration",
		Long: `Configuration management commands for megadl.

Commands:
  init  - Interactive configuration setup
  show  - Display current configuration
  path  - Show configuration file path`,
	}

	configCmd.AddCommand(newConfigInitCmd())
	configCmd.AddCommand(newConfigShowCmd())
	configCmd.AddCommand(newConfigPathCmd())

	return configCmd
}

// newConfigInitCmd creates the 'config init' command.
func newConfigInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize configuration interactively",
		Long: `Interactive configuration setup for megadl.

The configuration will be saved to ~/.config/megadl/config.csv
(or the --config path). Passwords and secret keys are never saved;
set MEGADL_PROXY_PASSWORD and MEGADL_S3_SECRET_ACCESS_KEY instead.

Use --force to overwrite existing configuration.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigInit(os.Stdin, cmd.OutOrStdout(), configPath(), force)
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "Overwrite existing configuration")

	return cmd
}

// runConfigInit prompts on r/w and saves the answers to path.
func runConfigInit(r io.Reader, w io.Writer, path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			fmt.Fprintf(w, "Configuration already exists at: %s\n", path)
			fmt.Fprintln(w, "Use --force to overwrite or run 'config show' to view current config.")
			return nil
		}
	}

	fmt.Fprintln(w, "megadl Configuration Setup")
	fmt.Fprintln(w, "==========================")
	fmt.Fprintln(w)

	p := &prompter{r: bufio.NewReader(r), w: w}
	cfg := config.Default()

	cfg.OutputDir = p.ask("Output directory", cfg.OutputDir)
	cfg.MaxConcurrent = p.askInt("Max concurrent downloads", cfg.MaxConcurrent, constants.MinMaxConcurrent, constants.MaxMaxConcurrent)
	cfg.MaxRetries = p.askInt("Restarts after a transient failure", cfg.MaxRetries, 0, constants.MaxSessionRetries)

	fmt.Fprintln(w)
	if p.yes("Configure proxy?") {
		fmt.Fprintln(w, "Proxy modes: no-proxy, system, basic, ntlm")
		cfg.ProxyMode = strings.ToLower(p.ask("Proxy mode", config.ProxySystem))
		if cfg.ProxyMode != config.ProxyNone {
			cfg.ProxyHost = p.ask("Proxy host", "")
			cfg.ProxyPort = p.askInt("Proxy port", 8080, 1, 65535)
			if config.ProxyAuthMode(cfg.ProxyMode) {
				cfg.ProxyUser = p.ask("Proxy user", "")
			}
			cfg.NoProxy = p.ask("Hosts to bypass (comma-separated)", "")
		}
	}

	fmt.Fprintln(w)
	cfg.Sink = strings.ToLower(p.ask("Output sink (file, s3, azure)", config.SinkFile))
	switch cfg.Sink {
	case config.SinkS3:
		cfg.S3Bucket = p.ask("S3 bucket", "")
		cfg.S3Region = p.ask("S3 region", "")
		cfg.S3Prefix = p.ask("S3 key prefix", "")
		cfg.S3Endpoint = p.ask("S3 endpoint (blank for AWS)", "")
	case config.SinkAzure:
		cfg.AzureContainerURL = p.ask("Azure container URL with SAS token", "")
		cfg.AzurePrefix = p.ask("Azure blob prefix", "")
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if err := config.SaveConfigCSV(cfg, path); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}

	fmt.Fprintln(w)
	fmt.Fprintf(w, "✓ Configuration saved to: %s\n", path)
	return nil
}

type prompter struct {
	r *bufio.Reader
	w io.Writer
}

func (p *prompter) ask(label, def string) string {
	if def != "" {
		fmt.Fprintf(p.w, "%s [%s]: ", label, def)
	} else {
		fmt.Fprintf(p.w, "%s: ", label)
	}
	input, _ := p.r.ReadString('\n')
	if input = strings.TrimSpace(input); input != "" {
		return input
	}
	return def
}

func (p *prompter) askInt(label string, def, lo, hi int) int {
	v, err := strconv.Atoi(p.ask(label, strconv.Itoa(def)))
	if err != nil || v < lo || v > hi {
		fmt.Fprintf(p.w, "  using %d (must be %d-%d)\n", def, lo, hi)
		return def
	}
	return v
}

func (p *prompter) yes(label string) bool {
	answer := strings.ToLower(p.ask(label+" [y/N]", ""))
	return answer == "y" || answer == "yes"
}

// newConfigShowCmd creates the 'config show' command.
func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Display current configuration",
		Long: `Display the current configuration settings.

This command shows the merged configuration from:
  1. Configuration file (~/.config/megadl/config.csv)
  2. Environment variables (MEGADL_*, HTTPS_PROXY)
  3. Command-line flags (--api-url)

Priority: flags > environment > config file > defaults`,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := configPath()
			cfg, err := config.LoadConfigCSV(path)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			cfg.MergeWithFlags(apiBaseURL, "", "", 0, -1)

			showConfig(cmd.OutOrStdout(), cfg, path)
			return nil
		},
	}
}

func showConfig(w io.Writer, cfg *config.Config, path string) {
	fmt.Fprintln(w, "Current Configuration")
	fmt.Fprintln(w, "=====================")
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Download Settings:")
	fmt.Fprintf(w, "  API URL:          %s\n", cfg.APIURL)
	fmt.Fprintf(w, "  Output Dir:       %s\n", cfg.OutputDir)
	fmt.Fprintf(w, "  Max Concurrent:   %d\n", cfg.MaxConcurrent)
	fmt.Fprintf(w, "  Max Retries:      %d\n", cfg.MaxRetries)
	fmt.Fprintf(w, "  Check Disk Space: %t\n", cfg.CheckDiskSpace)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Proxy Settings:")
	fmt.Fprintf(w, "  Proxy Mode: %s\n", cfg.ProxyMode)
	if cfg.ProxyHost != "" {
		fmt.Fprintf(w, "  Proxy Host: %s\n", cfg.ProxyHost)
		fmt.Fprintf(w, "  Proxy Port: %d\n", cfg.ProxyPort)
	}
	if cfg.ProxyUser != "" {
		fmt.Fprintf(w, "  Proxy User: %s\n", cfg.ProxyUser)
		fmt.Fprintf(w, "  Password:   %s\n", secretState(cfg.ProxyPassword))
	}
	if cfg.NoProxy != "" {
		fmt.Fprintf(w, "  No Proxy:   %s\n", cfg.NoProxy)
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Sink Settings:")
	fmt.Fprintf(w, "  Sink: %s\n", cfg.Sink)
	switch cfg.Sink {
	case config.SinkS3:
		fmt.Fprintf(w, "  Bucket:     %s\n", cfg.S3Bucket)
		fmt.Fprintf(w, "  Region:     %s\n", cfg.S3Region)
		fmt.Fprintf(w, "  Prefix:     %s\n", cfg.S3Prefix)
		if cfg.S3Endpoint != "" {
			fmt.Fprintf(w, "  Endpoint:   %s\n", cfg.S3Endpoint)
		}
		fmt.Fprintf(w, "  Access Key: %s\n", secretState(cfg.S3AccessKeyID))
	case config.SinkAzure:
		// The container URL carries a SAS token; show only what precedes it.
		container, _, _ := strings.Cut(cfg.AzureContainerURL, "?")
		fmt.Fprintf(w, "  Container:  %s\n", container)
		fmt.Fprintf(w, "  Prefix:     %s\n", cfg.AzurePrefix)
	}
	fmt.Fprintln(w)

	fmt.Fprintf(w, "Configuration file: %s\n", path)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		fmt.Fprintln(w, "  (file does not exist - using defaults)")
	}
}

func secretState(v string) string {
	if v == "" {
		return "<not set>"
	}
	return "<set>"
}

// newConfigPathCmd creates the 'config path' command.
func newConfigPathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Show configuration file path",
		Long:  `Display the path to the configuration file.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			w := cmd.OutOrStdout()
			path := configPath()
			if cfgFile == "" {
				fmt.Fprintln(w, "Default configuration path:")
			} else {
				fmt.Fprintln(w, "Configuration path (from --config flag):")
			}
			fmt.Fprintf(w, "  %s\n", path)
			fmt.Fprintln(w)

			if fileInfo, err := os.Stat(path); err == nil {
				fmt.Fprintln(w, "Status: ✓ File exists")
				fmt.Fprintf(w, "Size:   %d bytes\n", fileInfo.Size())
				fmt.Fprintf(w, "Modified: %s\n", fileInfo.ModTime().Format("2006-01-02 15:04:05"))
			} else {
				fmt.Fprintln(w, "Status: File does not exist")
				fmt.Fprintln(w)
				fmt.Fprintln(w, "Create a configuration file with: megadl config init")
			}
			return nil
		},
	}
}
