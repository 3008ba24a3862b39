package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"ProposalTracker/internal/app"
	"ProposalTracker/internal/config"
	"ProposalTracker/internal/domain"
	"ProposalTracker/internal/logging"
	"ProposalTracker/internal/usecase"
)

type rootOptions struct {
	configPath string
	dataDir    string
	logLevel   string
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "proposaltracker",
		Short:         "Track new blockchain improvement proposals",
		Long:          "Watches blockchain improvement proposal listings and sends an impact-rated digest when new proposals appear.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", os.Getenv("PROPOSAL_TRACKER_CONFIG"), "Path to the YAML config file")
	cmd.PersistentFlags().StringVar(&opts.dataDir, "data-dir", "", "Override the data directory")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Override the log level")

	cmd.AddCommand(newServeCommand(opts))
	cmd.AddCommand(newFetchCommand(opts))
	cmd.AddCommand(newCheckCommand(opts))
	cmd.AddCommand(newScheduleCommand(opts))
	cmd.AddCommand(newHistoryCommand(opts))
	cmd.AddCommand(newArchiveCommand(opts))
	return cmd
}

// build loads config and wires the application for one command run.
func (o *rootOptions) build(cmd *cobra.Command) (*app.Application, error) {
	cfg := config.LoadFrom(o.configPath)
	if o.dataDir != "" {
		cfg.Storage.DataDir = o.dataDir
	}
	if o.logLevel != "" {
		cfg.Logging.Level = o.logLevel
	}
	if err := os.MkdirAll(cfg.Storage.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	logger := logging.NewWithFormat(cfg.Logging.Level, cfg.Logging.Format, cmd.ErrOrStderr())
	return app.New(cmd.Context(), cfg, logger), nil
}

func (o *rootOptions) run(fn func(cmd *cobra.Command, a *app.Application, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		a, err := o.build(cmd)
		if err != nil {
			return err
		}
		defer func() { _ = a.Close() }()
		return fn(cmd, a, args)
	}
}

func newServeCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the scheduler and the control API until interrupted",
		Args:  cobra.NoArgs,
		RunE: opts.run(func(cmd *cobra.Command, a *app.Application, _ []string) error {
			return a.Serve(cmd.Context())
		}),
	}
}

func newFetchCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "fetch [protocol...]",
		Short: "Refresh proposal listings without diffing or notifying",
		RunE: opts.run(func(cmd *cobra.Command, a *app.Application, args []string) error {
			protocols, err := parseProtocols(args)
			if err != nil {
				return err
			}
			outcomes := a.Fetch(cmd.Context(), protocols)

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "PROTOCOL\tPROPOSALS\tRESULT")
			failed := 0
			for _, p := range domain.Protocols() {
				out, ok := outcomes[p]
				if !ok {
					continue
				}
				if out.Err != nil {
					failed++
					fmt.Fprintf(w, "%s\t-\t%v\n", p.DisplayName(), out.Err)
					continue
				}
				fmt.Fprintf(w, "%s\t%d\tok\n", p.DisplayName(), out.Listing.Count)
			}
			if err := w.Flush(); err != nil {
				return err
			}
			if failed > 0 && failed == len(outcomes) {
				return fmt.Errorf("all %d fetches failed", failed)
			}
			return nil
		}),
	}
}

func newCheckCommand(opts *rootOptions) *cobra.Command {
	var raw []string
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Run one full check now: fetch, diff, classify and notify",
		Args:  cobra.NoArgs,
		RunE: opts.run(func(cmd *cobra.Command, a *app.Application, _ []string) error {
			protocols, err := parseProtocols(raw)
			if err != nil {
				return err
			}
			record, err := a.Check(cmd.Context(), protocols)
			printRecord(cmd.OutOrStdout(), record)
			if err != nil {
				return fmt.Errorf("record execution: %w", err)
			}
			if !record.Success {
				return fmt.Errorf("check failed: %s", record.Error)
			}
			return nil
		}),
	}
	cmd.Flags().StringSliceVarP(&raw, "protocol", "p", nil, "Limit the check to these protocols")
	return cmd
}

func newScheduleCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Manage check schedules",
	}
	cmd.AddCommand(newScheduleListCommand(opts))
	cmd.AddCommand(newScheduleAddCommand(opts))
	cmd.AddCommand(newScheduleMutateCommand(opts, "enable", "Enable a schedule", (*usecase.ScheduleService).Enable))
	cmd.AddCommand(newScheduleMutateCommand(opts, "disable", "Disable a schedule", (*usecase.ScheduleService).Disable))
	cmd.AddCommand(newScheduleMutateCommand(opts, "toggle", "Flip a schedule between enabled and disabled", (*usecase.ScheduleService).Toggle))
	cmd.AddCommand(newScheduleDeleteCommand(opts))
	return cmd
}

func newScheduleListCommand(opts *rootOptions) *cobra.Command {
	var upcoming int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List schedules and their next runs",
		Args:  cobra.NoArgs,
		RunE: opts.run(func(cmd *cobra.Command, a *app.Application, _ []string) error {
			svc := a.Schedules()
			schedules, err := svc.List(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(schedules) == 0 {
				fmt.Fprintln(out, "No schedules configured.")
				return nil
			}

			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tFREQUENCY\tDAYS\tTIME\tENABLED\tPROTOCOLS")
			for _, s := range schedules {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%t\t%s\n",
					s.ID, s.Name, s.Frequency, dash(strings.Join(s.Days, ",")), s.TimeOfDay, s.Enabled, dash(joinProtocols(s.Protocols)))
			}
			if err := w.Flush(); err != nil {
				return err
			}

			runs, err := svc.Upcoming(cmd.Context(), upcoming)
			if err != nil {
				return err
			}
			if len(runs) > 0 {
				fmt.Fprintln(out, "\nUpcoming:")
				for _, r := range runs {
					fmt.Fprintf(out, "  %s  %s\n", r.At.Format("Mon 2006-01-02 15:04 MST"), r.ScheduleName)
				}
			}
			return nil
		}),
	}
	cmd.Flags().IntVar(&upcoming, "upcoming", 5, "Number of upcoming runs to preview")
	return cmd
}

func newScheduleAddCommand(opts *rootOptions) *cobra.Command {
	var (
		in       usecase.ScheduleInput
		disabled bool
	)
	cmd := &cobra.Command{
		Use:     "add",
		Short:   "Create a schedule",
		Example: `  proposaltracker schedule add --name "Morning" --frequency Weekdays --time 09:00`,
		Args:    cobra.NoArgs,
		RunE: opts.run(func(cmd *cobra.Command, a *app.Application, _ []string) error {
			if disabled {
				enabled := false
				in.Enabled = &enabled
			}
			sched, err := a.Schedules().Create(cmd.Context(), in)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created schedule %s (%s)\n", sched.ID, sched.Name)
			return nil
		}),
	}
	cmd.Flags().StringVar(&in.Name, "name", "", "Schedule name")
	cmd.Flags().StringVar(&in.Frequency, "frequency", "Daily", "Daily, Weekdays, Weekly, Biweekly or Custom")
	cmd.Flags().StringSliceVar(&in.Days, "days", nil, "Weekdays for Weekly, Biweekly and Custom (e.g. Mon,Thu)")
	cmd.Flags().StringVar(&in.TimeOfDay, "time", "09:00", "Time of day, HH:MM in the configured timezone")
	cmd.Flags().StringSliceVar(&in.Protocols, "protocols", nil, "Limit the schedule to these protocols")
	cmd.Flags().BoolVar(&disabled, "disabled", false, "Create the schedule disabled")
	return cmd
}

type scheduleMutation func(*usecase.ScheduleService, context.Context, string) (domain.Schedule, error)

func newScheduleMutateCommand(opts *rootOptions, use, short string, op scheduleMutation) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: opts.run(func(cmd *cobra.Command, a *app.Application, args []string) error {
			sched, err := op(a.Schedules(), cmd.Context(), args[0])
			if err != nil {
				return err
			}
			state := "disabled"
			if sched.Enabled {
				state = "enabled"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Schedule %s is %s\n", sched.Name, state)
			return nil
		}),
	}
}

func newScheduleDeleteCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a schedule",
		Args:  cobra.ExactArgs(1),
		RunE: opts.run(func(cmd *cobra.Command, a *app.Application, args []string) error {
			if err := a.Schedules().Delete(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted schedule %s\n", args[0])
			return nil
		}),
	}
}

func newHistoryCommand(opts *rootOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent executions, newest first",
		Args:  cobra.NoArgs,
		RunE: opts.run(func(cmd *cobra.Command, a *app.Application, _ []string) error {
			records, err := a.Schedules().History(cmd.Context(), limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(records) == 0 {
				fmt.Fprintln(out, "No executions recorded.")
				return nil
			}
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "TIME\tSCHEDULE\tRESULT\tNEW\tDURATION\tDETAIL")
			for _, r := range records {
				result, detail := "ok", strings.Join(r.Warnings, "; ")
				if !r.Success {
					result, detail = "failed", r.Error
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%.1fs\t%s\n",
					r.Timestamp.Local().Format("2006-01-02 15:04"), r.ScheduleName, result, r.NewProposalsCount, r.DurationSeconds, dash(detail))
			}
			return w.Flush()
		}),
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of records to show")
	return cmd
}

func newArchiveCommand(opts *rootOptions) *cobra.Command {
	var limit uint64
	cmd := &cobra.Command{
		Use:   "archive <protocol>",
		Short: "Show archived impact assessments for a protocol",
		Args:  cobra.ExactArgs(1),
		RunE: opts.run(func(cmd *cobra.Command, a *app.Application, args []string) error {
			protocol, err := domain.ParseProtocol(args[0])
			if err != nil {
				return err
			}
			archive := a.Archive()
			if archive == nil {
				return fmt.Errorf("impact archive is not available")
			}
			rows, err := archive.ListByProtocol(cmd.Context(), protocol, limit)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tIMPACT\tSCORE\tBREAKING\tSTRATEGY\tCHECKED\tTITLE")
			for _, r := range rows {
				fmt.Fprintf(w, "%s-%d\t%s\t%d\t%t\t%s\t%s\t%s\n",
					protocol.Prefix(), r.Number, r.ImpactLevel, r.Score, r.Breaking, r.Strategy, r.CheckedAt.Local().Format(time.DateOnly), r.Title)
			}
			return w.Flush()
		}),
	}
	cmd.Flags().Uint64VarP(&limit, "limit", "n", 20, "Number of rows to show")
	return cmd
}

func printRecord(w io.Writer, r domain.ExecutionRecord) {
	status := "succeeded"
	if !r.Success {
		status = "failed"
	}
	fmt.Fprintf(w, "Check %s in %.1fs: %d new proposal(s)\n", status, r.DurationSeconds, r.NewProposalsCount)
	if r.Error != "" {
		fmt.Fprintf(w, "  error: %s\n", r.Error)
	}
	for _, warn := range r.Warnings {
		fmt.Fprintf(w, "  warning: %s\n", warn)
	}
	for _, ch := range domain.Channels() {
		if sent, ok := r.Channels[ch]; ok {
			fmt.Fprintf(w, "  %s: %t\n", ch, sent)
		}
	}
}

func parseProtocols(raw []string) ([]domain.Protocol, error) {
	var out []domain.Protocol
	for _, r := range raw {
		p, err := domain.ParseProtocol(r)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func joinProtocols(ps []domain.Protocol) string {
	parts := make([]string, len(ps))
	for i, p := range ps {
		parts[i] = string(p)
	}
	return strings.Join(parts, ",")
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
