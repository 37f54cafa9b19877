package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mattjoyce/tapemaint/internal/schedstore"
)

// withBackends loads the configuration, opens the stores and closes them
// after fn returns.
func withBackends(cmd *cobra.Command, v *viper.Viper, fn func(ctx context.Context, b *backends) error) error {
	cfg, err := loadConfig(cmd, v)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	b, err := openBackends(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = b.Close() }()
	return fn(ctx, b)
}

func repackCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{Use: "repack", Short: "Submit, list and cancel repack requests"}
	cmd.AddCommand(repackAddCmd(v))
	cmd.AddCommand(repackListCmd(v))
	cmd.AddCommand(repackRemoveCmd(v))
	return cmd
}

func parseRepackType(s string) (schedstore.RepackType, error) {
	t := schedstore.RepackType(strings.ToUpper(strings.ReplaceAll(s, "-", "_")))
	if !t.Valid() {
		return "", fmt.Errorf("unknown repack type %q (want move_only, add_copies_only or move_and_add_copies)", s)
	}
	return t, nil
}

func repackAddCmd(v *viper.Viper) *cobra.Command {
	var (
		repackType string
		bufferURL  string
		noRecall   bool
		submitter  string
	)
	cmd := &cobra.Command{
		Use:   "add <vid>",
		Short: "Queue a repack request for a tape",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := parseRepackType(repackType)
			if err != nil {
				return err
			}
			if bufferURL == "" {
				return fmt.Errorf("--buffer is required")
			}
			if submitter == "" {
				submitter = os.Getenv("USER")
			}
			return withBackends(cmd, v, func(ctx context.Context, b *backends) error {
				id, err := b.sched.QueueRepack(ctx, schedstore.SubmitRepackRequest{
					VID:         args[0],
					Type:        t,
					BufferURL:   bufferURL,
					NoRecall:    noRecall,
					SubmittedBy: submitter,
				})
				if err != nil {
					return err
				}
				if v.GetBool("json") {
					return printJSON(cmd.OutOrStdout(), map[string]string{"id": id, "vid": args[0]})
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Queued repack %s for %s\n", id, args[0])
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&repackType, "type", "move_only", "move_only, add_copies_only or move_and_add_copies")
	cmd.Flags().StringVar(&bufferURL, "buffer", "", "buffer directory for retrieved files")
	cmd.Flags().BoolVar(&noRecall, "no-recall", false, "use files already in the buffer instead of recalling them")
	cmd.Flags().StringVar(&submitter, "submitted-by", "", "operator name (defaults to $USER)")
	return cmd
}

type repackView struct {
	VID              string `json:"vid"`
	ID               string `json:"id"`
	Status           string `json:"status"`
	Type             string `json:"type"`
	FilesToRetrieve  uint64 `json:"files_to_retrieve"`
	BytesToRetrieve  uint64 `json:"bytes_to_retrieve"`
	ArchivedFiles    uint64 `json:"archived_files"`
	FailedFiles      uint64 `json:"failed_files"`
	LastExpandedFSeq uint64 `json:"last_expanded_fseq"`
	Failure          string `json:"failure,omitempty"`
}

func toRepackView(r schedstore.RepackRequest) repackView {
	return repackView{
		VID:              r.VID,
		ID:               r.ID,
		Status:           string(r.Status),
		Type:             string(r.Type),
		FilesToRetrieve:  r.Stats.FilesToRetrieve,
		BytesToRetrieve:  r.Stats.BytesToRetrieve,
		ArchivedFiles:    r.Stats.ArchivedFiles,
		FailedFiles:      r.Stats.FailedToRetrieveFiles + r.Stats.FailedToArchiveFiles,
		LastExpandedFSeq: r.LastExpandedFSeq,
		Failure:          r.FailureMessage,
	}
}

func repackListCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:     "ls [vid]",
		Aliases: []string{"list"},
		Short:   "List repack requests",
		Args:    cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBackends(cmd, v, func(ctx context.Context, b *backends) error {
				var reqs []schedstore.RepackRequest
				if len(args) == 1 {
					r, err := b.sched.GetRepackRequest(ctx, args[0])
					if errors.Is(err, schedstore.ErrNoSuchObject) {
						return fmt.Errorf("no repack request for %s", args[0])
					}
					if err != nil {
						return err
					}
					reqs = append(reqs, *r)
				} else {
					var err error
					if reqs, err = b.sched.ListRepackRequests(ctx); err != nil {
						return err
					}
				}

				views := make([]repackView, 0, len(reqs))
				for _, r := range reqs {
					views = append(views, toRepackView(r))
				}
				if v.GetBool("json") {
					return printJSON(cmd.OutOrStdout(), views)
				}

				tw := table.NewWriter()
				tw.SetOutputMirror(cmd.OutOrStdout())
				tw.AppendHeader(table.Row{"VID", "Status", "Type", "To retrieve", "Archived", "Failed", "Last fseq", "Failure"})
				for _, rv := range views {
					tw.AppendRow(table.Row{
						rv.VID, rv.Status, rv.Type,
						fmt.Sprintf("%d (%s)", rv.FilesToRetrieve, humanize.IBytes(rv.BytesToRetrieve)),
						rv.ArchivedFiles, rv.FailedFiles, rv.LastExpandedFSeq, rv.Failure,
					})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func repackRemoveCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:     "rm <vid>",
		Aliases: []string{"cancel"},
		Short:   "Cancel a repack request and drop its queued sub-jobs",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBackends(cmd, v, func(ctx context.Context, b *backends) error {
				err := b.sched.CancelRepack(ctx, args[0])
				if errors.Is(err, schedstore.ErrNoSuchObject) {
					return fmt.Errorf("no repack request for %s", args[0])
				}
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Cancelled repack for %s\n", args[0])
				return nil
			})
		},
	}
}
