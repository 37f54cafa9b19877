package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mattjoyce/tapemaint/internal/catalogue"
)

func driveCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{Use: "drive", Short: "Record and list tape drive sessions"}
	cmd.AddCommand(driveSetCmd(v))
	cmd.AddCommand(driveListCmd(v))
	cmd.AddCommand(driveRemoveCmd(v))
	return cmd
}

func driveSetCmd(v *viper.Viper) *cobra.Command {
	var (
		status    string
		library   string
		mountType string
		session   int64
		vid       string
	)
	cmd := &cobra.Command{
		Use:   "set <name>",
		Short: "Create or update a drive and its current session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d := catalogue.Drive{
				Name:           args[0],
				LogicalLibrary: library,
				Status:         catalogue.DriveStatus(strings.ToUpper(status)),
				MountType:      mountType,
				VID:            vid,
			}
			if session >= 0 {
				id := uint64(session)
				d.SessionID = &id
			}
			return withBackends(cmd, v, func(ctx context.Context, b *backends) error {
				if err := b.catalogue.UpsertDrive(ctx, d); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Drive %s is %s\n", d.Name, d.Status)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", string(catalogue.DriveUp), "drive status (UP, DOWN, TRANSFERRING, ...)")
	cmd.Flags().StringVar(&library, "library", "", "logical library")
	cmd.Flags().StringVar(&mountType, "mount-type", "", "mount type of the current session")
	cmd.Flags().Int64Var(&session, "session", -1, "session (mount) id; negative clears it")
	cmd.Flags().StringVar(&vid, "vid", "", "mounted tape")
	return cmd
}

func driveListCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:     "ls",
		Aliases: []string{"list"},
		Short:   "List drives",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBackends(cmd, v, func(ctx context.Context, b *backends) error {
				drives, err := b.catalogue.ListDrives(ctx)
				if err != nil {
					return err
				}
				if v.GetBool("json") {
					return printJSON(cmd.OutOrStdout(), drives)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(cmd.OutOrStdout())
				tw.AppendHeader(table.Row{"Drive", "Library", "Status", "Mount", "Session", "VID", "Updated"})
				for _, d := range drives {
					session := "-"
					if d.SessionID != nil {
						session = strconv.FormatUint(*d.SessionID, 10)
					}
					tw.AppendRow(table.Row{d.Name, d.LogicalLibrary, d.Status, d.MountType, session, d.VID, humanize.Time(d.LastUpdate)})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func driveRemoveCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "rm <name>",
		Short: "Remove a drive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBackends(cmd, v, func(ctx context.Context, b *backends) error {
				err := b.catalogue.DeleteDrive(ctx, args[0])
				if errors.Is(err, catalogue.ErrDriveNotFound) {
					return fmt.Errorf("no drive named %s", args[0])
				}
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed drive %s\n", args[0])
				return nil
			})
		},
	}
}

func catalogueCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{Use: "catalogue", Short: "Seed storage classes, archive routes and files"}

	sc := &cobra.Command{Use: "storage-class", Short: "Manage storage classes"}
	sc.AddCommand(storageClassAddCmd(v))
	sc.AddCommand(storageClassListCmd(v))

	route := &cobra.Command{Use: "route", Short: "Manage archive routes"}
	route.AddCommand(routeAddCmd(v))

	file := &cobra.Command{Use: "file", Short: "Manage archive files"}
	file.AddCommand(fileAddCmd(v))

	cmd.AddCommand(sc, route, file)
	return cmd
}

func storageClassAddCmd(v *viper.Viper) *cobra.Command {
	var copies uint8
	cmd := &cobra.Command{
		Use:   "add <name>",
		Short: "Create or update a storage class",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBackends(cmd, v, func(ctx context.Context, b *backends) error {
				if err := b.catalogue.CreateStorageClass(ctx, catalogue.StorageClass{Name: args[0], NbCopies: copies}); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Storage class %s has %d cop%s\n", args[0], copies, plural(int(copies), "y", "ies"))
				return nil
			})
		},
	}
	cmd.Flags().Uint8Var(&copies, "copies", 1, "number of tape copies")
	return cmd
}

func storageClassListCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:     "ls",
		Aliases: []string{"list"},
		Short:   "List storage classes and their routes",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBackends(cmd, v, func(ctx context.Context, b *backends) error {
				classes, err := b.catalogue.GetStorageClasses(ctx)
				if err != nil {
					return err
				}
				routes, err := b.catalogue.GetArchiveRoutes(ctx)
				if err != nil {
					return err
				}
				if v.GetBool("json") {
					return printJSON(cmd.OutOrStdout(), map[string]any{"storage_classes": classes, "routes": routes})
				}
				pools := make(map[string][]string)
				for _, r := range routes {
					pools[r.StorageClass] = append(pools[r.StorageClass], fmt.Sprintf("%d:%s", r.CopyNb, r.TapePool))
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(cmd.OutOrStdout())
				tw.AppendHeader(table.Row{"Storage class", "Copies", "Routes"})
				for _, sc := range classes {
					tw.AppendRow(table.Row{sc.Name, sc.NbCopies, strings.Join(pools[sc.Name], ", ")})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func routeAddCmd(v *viper.Viper) *cobra.Command {
	var (
		copyNb uint8
		pool   string
	)
	cmd := &cobra.Command{
		Use:   "add <storage-class>",
		Short: "Route one copy of a storage class to a tape pool",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBackends(cmd, v, func(ctx context.Context, b *backends) error {
				err := b.catalogue.CreateArchiveRoute(ctx, catalogue.ArchiveRoute{StorageClass: args[0], CopyNb: copyNb, TapePool: pool})
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Copy %d of %s goes to %s\n", copyNb, args[0], pool)
				return nil
			})
		},
	}
	cmd.Flags().Uint8Var(&copyNb, "copy", 1, "copy number")
	cmd.Flags().StringVar(&pool, "pool", "", "tape pool")
	return cmd
}

// parseTapeFile reads VID:FSEQ[:COPY].
func parseTapeFile(s string) (catalogue.TapeFile, error) {
	parts := strings.Split(s, ":")
	if len(parts) < 2 || len(parts) > 3 || parts[0] == "" {
		return catalogue.TapeFile{}, fmt.Errorf("tape file %q: want VID:FSEQ[:COPY]", s)
	}
	fseq, err := strconv.ParseUint(parts[1], 10, 64)
	if err != nil {
		return catalogue.TapeFile{}, fmt.Errorf("tape file %q: fseq: %w", s, err)
	}
	tf := catalogue.TapeFile{VID: parts[0], FSeq: fseq, CopyNb: 1}
	if len(parts) == 3 {
		c, err := strconv.ParseUint(parts[2], 10, 8)
		if err != nil {
			return catalogue.TapeFile{}, fmt.Errorf("tape file %q: copy: %w", s, err)
		}
		tf.CopyNb = uint8(c)
	}
	return tf, nil
}

func fileAddCmd(v *viper.Viper) *cobra.Command {
	var (
		storageClass string
		size         uint64
		diskInstance string
		diskFileID   string
		tapes        []string
	)
	cmd := &cobra.Command{
		Use:   "add <archive-file-id>",
		Short: "Record an archive file and its tape copies",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseUint(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("archive file id: %w", err)
			}
			f := catalogue.ArchiveFile{
				ID:           id,
				DiskInstance: diskInstance,
				DiskFileID:   diskFileID,
				SizeInBytes:  size,
				StorageClass: storageClass,
			}
			if f.DiskFileID == "" {
				f.DiskFileID = args[0]
			}
			for _, t := range tapes {
				tf, err := parseTapeFile(t)
				if err != nil {
					return err
				}
				f.TapeFiles = append(f.TapeFiles, tf)
			}
			return withBackends(cmd, v, func(ctx context.Context, b *backends) error {
				if err := b.catalogue.AddArchiveFile(ctx, f); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Archive file %d (%s) on %d tape(s)\n", id, humanize.IBytes(size), len(f.TapeFiles))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&storageClass, "storage-class", "", "storage class")
	cmd.Flags().Uint64Var(&size, "size", 0, "size in bytes")
	cmd.Flags().StringVar(&diskInstance, "disk-instance", "", "disk instance name")
	cmd.Flags().StringVar(&diskFileID, "disk-file-id", "", "disk file id (defaults to the archive file id)")
	cmd.Flags().StringArrayVar(&tapes, "tape", nil, "tape copy as VID:FSEQ[:COPY], repeatable")
	return cmd
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
