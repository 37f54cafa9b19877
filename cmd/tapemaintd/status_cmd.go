package main

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mattjoyce/tapemaint/internal/config"
	"github.com/mattjoyce/tapemaint/internal/lock"
	"github.com/mattjoyce/tapemaint/internal/schedstore"
	"github.com/mattjoyce/tapemaint/internal/tui"
)

type agentView struct {
	ID          string    `json:"id"`
	Description string    `json:"description"`
	Heartbeat   time.Time `json:"heartbeat"`
	Dead        bool      `json:"dead"`
}

type queueView struct {
	Category string `json:"category"`
	Queue    string `json:"queue"`
	Count    int    `json:"count"`
}

type statusReport struct {
	Running bool           `json:"running"`
	PID     int            `json:"pid,omitempty"`
	Queues  []queueView    `json:"queues"`
	Repack  map[string]int `json:"repack"`
	Agents  []agentView    `json:"agents"`
}

func collectStatus(ctx context.Context, cfg *config.Config, b *backends) (statusReport, error) {
	var rep statusReport
	held, err := lock.Held(cfg.Service.PIDFile)
	if err != nil {
		return rep, err
	}
	rep.Running = held
	if held {
		if pid, err := lock.ReadPID(cfg.Service.PIDFile); err == nil {
			rep.PID = pid
		}
	}

	counts, err := b.sched.QueueSummary(ctx)
	if err != nil {
		return rep, err
	}
	for _, c := range counts {
		rep.Queues = append(rep.Queues, queueView{Category: string(c.Category), Queue: string(c.Queue), Count: c.Count})
	}

	stats, err := b.sched.GetRepackStatistics(ctx)
	if err != nil {
		return rep, err
	}
	rep.Repack = make(map[string]int, len(stats))
	for s, n := range stats {
		rep.Repack[string(s)] = n
	}

	agents, err := b.objects.ListAgents(ctx)
	if err != nil {
		return rep, err
	}
	now := time.Now()
	for _, a := range agents {
		rep.Agents = append(rep.Agents, agentView{ID: a.ID, Description: a.Description, Heartbeat: a.Heartbeat, Dead: a.Dead(now)})
	}
	return rep, nil
}

func statusCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon, queue and repack state from the backends",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
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

			rep, err := collectStatus(ctx, cfg, b)
			if err != nil {
				return err
			}
			if v.GetBool("json") {
				return printJSON(cmd.OutOrStdout(), rep)
			}
			printStatus(cmd.OutOrStdout(), rep)
			return nil
		},
	}
}

func printStatus(w io.Writer, rep statusReport) {
	if rep.Running {
		color.New(color.FgGreen, color.Bold).Fprintf(w, "tapemaintd running (pid %d)\n", rep.PID)
	} else {
		color.New(color.FgYellow, color.Bold).Fprintln(w, "tapemaintd not running")
	}

	byCategory := make(map[string]map[string]int)
	for _, q := range rep.Queues {
		if byCategory[q.Category] == nil {
			byCategory[q.Category] = make(map[string]int)
		}
		byCategory[q.Category][q.Queue] = q.Count
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.AppendHeader(table.Row{"Category", "Pending", "Active", "Failed"})
	for _, c := range schedstore.Categories() {
		counts := byCategory[string(c)]
		tw.AppendRow(table.Row{
			strings.TrimSuffix(string(c), "_"),
			humanize.Comma(int64(counts[string(schedstore.QueuePending)])),
			humanize.Comma(int64(counts[string(schedstore.QueueActive)])),
			humanize.Comma(int64(counts[string(schedstore.QueueFailed)])),
		})
	}
	tw.Render()

	if len(rep.Repack) > 0 {
		statuses := make([]string, 0, len(rep.Repack))
		for s := range rep.Repack {
			statuses = append(statuses, s)
		}
		sort.Strings(statuses)
		parts := make([]string, 0, len(statuses))
		for _, s := range statuses {
			parts = append(parts, fmt.Sprintf("%s=%d", strings.ToLower(s), rep.Repack[s]))
		}
		fmt.Fprintf(w, "Repack: %s\n", strings.Join(parts, " "))
	}

	for _, a := range rep.Agents {
		state := "alive"
		if a.Dead {
			state = "dead"
		}
		fmt.Fprintf(w, "Agent %s (%s): %s, heartbeat %s\n", a.ID, a.Description, state, humanize.Time(a.Heartbeat))
	}
}

func monitorCmd(v *viper.Viper) *cobra.Command {
	var apiURL string
	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Live terminal view of a running daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			apiKey := v.GetString("api-key")
			if apiURL == "" {
				cfg, err := loadConfig(cmd, v)
				if err != nil {
					return err
				}
				if !cfg.API.Enabled {
					return fmt.Errorf("api is disabled in the configuration; pass --api")
				}
				apiURL = "http://" + cfg.API.Listen
				if apiKey == "" {
					apiKey = cfg.API.APIKey
				}
			}
			p := tea.NewProgram(tui.NewMonitor(apiURL, apiKey), tea.WithAltScreen())
			_, err := p.Run()
			return err
		},
	}
	cmd.Flags().StringVar(&apiURL, "api", "", "status API base URL (defaults to api.listen)")
	cmd.Flags().String("api-key", "", "status API key (defaults to api.api_key)")
	_ = v.BindPFlag("api-key", cmd.Flags().Lookup("api-key"))
	return cmd
}
