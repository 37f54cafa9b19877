package main

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/mattjoyce/tapemaint/internal/config"
	"github.com/mattjoyce/tapemaint/internal/doctor"
)

func configCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{Use: "config", Short: "Inspect and lock the configuration"}
	cmd.AddCommand(configCheckCmd(v))
	cmd.AddCommand(configLockCmd(v))
	cmd.AddCommand(configShowCmd(v))
	return cmd
}

func configCheckCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Validate the configuration and report risky settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			cfg, err := loadConfig(cmd, v)
			if err != nil {
				if v.GetBool("json") {
					_ = printJSON(out, doctor.Result{Valid: false, Errors: []doctor.Issue{{Category: "load", Message: err.Error()}}})
					return &exitError{code: 1}
				}
				color.New(color.FgRed, color.Bold).Fprintln(out, "Configuration invalid")
				fmt.Fprintf(out, "  ERROR [load] %s\n", err)
				return &exitError{code: 1}
			}

			result := doctor.New(cfg).Validate()
			if v.GetBool("json") {
				data, err := doctor.FormatJSON(result)
				if err != nil {
					return err
				}
				fmt.Fprintln(out, data)
			} else {
				printValidationSummary(out, result)
			}
			if !result.Valid {
				return &exitError{code: 1}
			}
			return nil
		},
	}
}

// printValidationSummary colours the verdict line of the doctor report.
func printValidationSummary(w io.Writer, result *doctor.Result) {
	report := doctor.FormatHuman(result)
	verdict, rest, _ := strings.Cut(report, "\n")
	switch {
	case !result.Valid:
		color.New(color.FgRed, color.Bold).Fprintln(w, verdict)
	case len(result.Warnings) > 0:
		color.New(color.FgYellow, color.Bold).Fprintln(w, verdict)
	default:
		color.New(color.FgGreen, color.Bold).Fprintln(w, verdict)
	}
	fmt.Fprint(w, rest)
}

func configLockCmd(v *viper.Viper) *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "lock",
		Short: "Record the BLAKE3 hash of the configuration in .checksums",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := configPath(v, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			file, err := config.ResolveConfigFile(path)
			if err != nil {
				return err
			}
			res, err := config.Lock(file, dryRun)
			if err != nil {
				return fmt.Errorf("lock config: %w", err)
			}

			out := cmd.OutOrStdout()
			if v.GetBool("json") {
				return printJSON(out, res)
			}
			fmt.Fprintf(out, "%s  %s\n", res.Hash, filepath.Base(res.File))
			if res.Changed() {
				fmt.Fprintf(out, "previous %s\n", res.Previous)
			}
			if res.Written {
				color.New(color.FgGreen).Fprintf(out, "Wrote %s\n", res.ManifestPath)
			} else {
				fmt.Fprintf(out, "Dry run, %s not written\n", res.ManifestPath)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "print hashes without writing .checksums")
	return cmd
}

func configShowCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration with defaults applied",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, v)
			if err != nil {
				return err
			}
			shown := *cfg
			if shown.API.APIKey != "" {
				shown.API.APIKey = "********"
			}
			if v.GetBool("json") {
				return printJSON(cmd.OutOrStdout(), shown)
			}
			data, err := yaml.Marshal(&shown)
			if err != nil {
				return fmt.Errorf("marshal config: %w", err)
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
}
