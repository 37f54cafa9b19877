package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime/debug"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mattjoyce/tapemaint/internal/config"
)

var (
	version   = "0.1.0-dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	os.Exit(runCLI(os.Args[1:], os.Stdout, os.Stderr))
}

// runCLI executes the command tree and maps the outcome to an exit code.
func runCLI(args []string, stdout, stderr io.Writer) int {
	v := viper.New()
	root := newRootCmd(v)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	if err := root.Execute(); err != nil {
		var ee *exitError
		if errors.As(err, &ee) {
			if ee.msg != "" {
				fmt.Fprintln(stderr, "error:", ee.msg)
			}
			return ee.code
		}
		fmt.Fprintln(stderr, "error:", err)
		return 1
	}
	return 0
}

// exitError carries a specific exit code out of a RunE.
type exitError struct {
	code int
	msg  string
}

func (e *exitError) Error() string {
	if e.msg == "" {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.msg
}

func newRootCmd(v *viper.Viper) *cobra.Command {
	root := &cobra.Command{
		Use:           "tapemaintd",
		Short:         "Tape archive maintenance daemon",
		Long:          "tapemaintd runs periodic maintenance over a tape archive's scheduler queues, object store and repack requests.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	v.SetEnvPrefix("TAPEMAINT")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	root.PersistentFlags().StringP("config", "c", "", "path to configuration file or directory")
	root.PersistentFlags().String("log-level", "", "override service.log_level")
	root.PersistentFlags().Bool("json", false, "output JSON")
	_ = v.BindPFlag("config", root.PersistentFlags().Lookup("config"))
	_ = v.BindPFlag("log-level", root.PersistentFlags().Lookup("log-level"))
	_ = v.BindPFlag("json", root.PersistentFlags().Lookup("json"))

	root.AddCommand(startCmd(v))
	root.AddCommand(configCmd(v))
	root.AddCommand(repackCmd(v))
	root.AddCommand(driveCmd(v))
	root.AddCommand(catalogueCmd(v))
	root.AddCommand(statusCmd(v))
	root.AddCommand(monitorCmd(v))
	root.AddCommand(versionCmd(v))
	return root
}

// configPath returns the --config value, falling back to discovery.
func configPath(v *viper.Viper, stderr io.Writer) (string, error) {
	if p := v.GetString("config"); p != "" {
		return p, nil
	}
	discovered, err := config.DiscoverConfigDir()
	if err != nil {
		return "", fmt.Errorf("discover config: %w", err)
	}
	fmt.Fprintf(stderr, "Using discovered config: %s\n", discovered)
	return discovered, nil
}

// loadConfig loads the configuration and applies command-line overrides.
func loadConfig(cmd *cobra.Command, v *viper.Viper) (*config.Config, error) {
	path, err := configPath(v, cmd.ErrOrStderr())
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if lvl := v.GetString("log-level"); lvl != "" {
		cfg.Service.LogLevel = lvl
	}
	return cfg, nil
}

func printJSON(w io.Writer, value any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(value)
}

type versionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
}

func versionCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			info := currentVersionInfo()
			if v.GetBool("json") {
				return printJSON(cmd.OutOrStdout(), info)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "tapemaintd %s (commit %s, built %s)\n", info.Version, info.Commit, info.BuildTime)
			return nil
		},
	}
}

func currentVersionInfo() versionInfo {
	info := versionInfo{Version: version, Commit: gitCommit, BuildTime: buildDate}
	if info.Commit == "unknown" {
		if rev := readBuildSetting("vcs.revision"); rev != "" {
			info.Commit = shortenCommit(rev)
		}
	}
	if info.BuildTime == "unknown" {
		if t := readBuildSetting("vcs.time"); t != "" {
			if normalized, ok := normalizeBuildTimeUTC(t); ok {
				info.BuildTime = normalized
			}
		}
	}
	return info
}

func shortenCommit(commit string) string {
	if len(commit) > 12 {
		return commit[:12]
	}
	return commit
}

func normalizeBuildTimeUTC(raw string) (string, bool) {
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return "", false
	}
	return t.UTC().Format(time.RFC3339), true
}

func readBuildSetting(key string) string {
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, s := range bi.Settings {
		if s.Key == key {
			return s.Value
		}
	}
	return ""
}
