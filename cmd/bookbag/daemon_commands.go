package main

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"bookbag/internal/daemonctl"
	"bookbag/internal/ipc"
	"bookbag/internal/preflight"
)

func newDaemonCommands(ctx *commandContext) []*cobra.Command {
	var logLevel string
	startCmd := &cobra.Command{
		Use:   "start",
		Short: "Start the bookbag daemon in the background",
		RunE: func(cmd *cobra.Command, args []string) error {
			exe, err := os.Executable()
			if err != nil {
				return fmt.Errorf("resolve executable: %w", err)
			}
			result, err := daemonctl.EnsureStarted(
				ctx.socketPath(),
				exe,
				daemonctl.LaunchOptions{ConfigPath: ctx.configPath, LogLevel: logLevel},
				10*time.Second,
			)
			if err != nil {
				return err
			}
			stdout := cmd.OutOrStdout()
			switch result.State {
			case daemonctl.StartStateStarted:
				fmt.Fprintf(stdout, "Daemon started (pid %d)\n", result.PID)
			case daemonctl.StartStateAlreadyRunning:
				fmt.Fprintf(stdout, "Daemon already running (pid %d)\n", result.PID)
			}
			return nil
		},
	}
	startCmd.Flags().StringVar(&logLevel, "log-level", "", "Override logging.level for the daemon")

	stopCmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop the bookbag daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			stdout := cmd.OutOrStdout()
			result, err := daemonctl.StopAndTerminate(ctx.socketPath(), ctx.configValue(), 10*time.Second)
			if errors.Is(err, daemonctl.ErrDaemonNotRunning) {
				fmt.Fprintln(stdout, "Daemon is not running")
				return nil
			}
			if err != nil {
				return err
			}
			if result.ForcedKill {
				fmt.Fprintf(stdout, "Daemon did not exit in time; killed pid %d\n", result.PID)
				return nil
			}
			fmt.Fprintln(stdout, "Daemon stopped")
			return nil
		},
	}

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon, job, provider and path status",
	}
	asJSON := outputFlag(statusCmd)
	statusCmd.RunE = func(cmd *cobra.Command, args []string) error {
		var status *ipc.StatusResponse
		client, err := ctx.dialClient()
		if err == nil {
			status, err = client.Status()
			client.Close()
			if err != nil {
				return err
			}
		}
		if *asJSON {
			if status == nil {
				status = &ipc.StatusResponse{}
			}
			return writeJSON(cmd, status)
		}
		renderStatus(cmd, ctx, status)
		return nil
	}

	return []*cobra.Command{startCmd, stopCmd, statusCmd}
}

func renderStatus(cmd *cobra.Command, ctx *commandContext, status *ipc.StatusResponse) {
	stdout := cmd.OutOrStdout()
	colorize := shouldColorize(stdout)

	for _, line := range renderSectionHeader("Daemon", colorize) {
		fmt.Fprintln(stdout, line)
	}
	if status == nil {
		fmt.Fprintln(stdout, renderStatusLine("Daemon", statusWarn, "not running", colorize))
	} else {
		fmt.Fprintln(stdout, renderStatusLine("Daemon", statusOK, fmt.Sprintf("running (pid %d)", status.PID), colorize))
		fmt.Fprintln(stdout, renderStatusLine("Database", statusInfo, status.DatabasePath, colorize))
		fmt.Fprintln(stdout, renderStatusLine("Unmatched files", statusInfo, strconv.Itoa(status.Unmatched), colorize))
	}
	fmt.Fprintln(stdout)

	for _, line := range renderSectionHeader("Paths", colorize) {
		fmt.Fprintln(stdout, line)
	}
	for _, check := range preflight.RunAll(cmd.Context(), ctx.configValue(), nil) {
		kind := statusOK
		if !check.Passed {
			kind = statusError
		}
		fmt.Fprintln(stdout, renderStatusLine(check.Name, kind, check.Detail, colorize))
	}
	if status == nil {
		return
	}
	fmt.Fprintln(stdout)

	if len(status.Clients) > 0 {
		for _, line := range renderSectionHeader("Download clients", colorize) {
			fmt.Fprintln(stdout, line)
		}
		for _, client := range status.Clients {
			fmt.Fprintln(stdout, renderStatusLine(client.Name, statusOK, client.Protocol, colorize))
		}
		fmt.Fprintln(stdout)
	}

	if len(status.Wanted) > 0 {
		for _, line := range renderSectionHeader("Wanted", colorize) {
			fmt.Fprintln(stdout, line)
		}
		phases := make([]string, 0, len(status.Wanted))
		for phase := range status.Wanted {
			phases = append(phases, phase)
		}
		sort.Strings(phases)
		for _, phase := range phases {
			fmt.Fprintln(stdout, renderStatusLine(phase, statusInfo, strconv.Itoa(status.Wanted[phase]), colorize))
		}
		fmt.Fprintln(stdout)
	}

	if len(status.Jobs) > 0 {
		rows := make([][]string, 0, len(status.Jobs))
		for _, job := range status.Jobs {
			state := "idle"
			switch {
			case job.Running:
				state = "running"
			case job.Pending:
				state = "queued"
			}
			interval := "manual"
			if job.IntervalSecs > 0 {
				interval = (time.Duration(job.IntervalSecs) * time.Second).String()
			}
			rows = append(rows, []string{
				job.Name,
				state,
				interval,
				strconv.Itoa(job.Runs),
				formatTime(job.LastStart),
				formatTime(job.NextRun),
				truncate(orDash(job.LastError), 40),
			})
		}
		fmt.Fprintln(stdout, renderTable(
			[]string{"Job", "State", "Interval", "Runs", "Last run", "Next run", "Last error"},
			rows,
			[]columnAlignment{alignLeft, alignLeft, alignRight, alignRight, alignLeft, alignLeft, alignLeft},
		))
	}

	if len(status.Providers) > 0 {
		rows := make([][]string, 0, len(status.Providers))
		for _, p := range status.Providers {
			limit := "-"
			if p.APILimit > 0 {
				limit = strconv.Itoa(p.APILimit)
			}
			cooldown := "-"
			if !p.CooldownUntil.IsZero() && p.CooldownUntil.After(time.Now()) {
				cooldown = fmt.Sprintf("until %s (%s)", formatTime(p.CooldownUntil), p.CooldownReason)
			}
			rows = append(rows, []string{p.Label, p.Family, strconv.Itoa(p.UsedToday), limit, cooldown})
		}
		fmt.Fprintln(stdout, renderTable(
			[]string{"Provider", "Family", "Used today", "Limit", "Cooldown"},
			rows,
			[]columnAlignment{alignLeft, alignLeft, alignRight, alignRight, alignLeft},
		))
	}
}
