package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"bookbag/internal/ipc"
)

func newJobCommand(ctx *commandContext) *cobra.Command {
	jobCmd := &cobra.Command{
		Use:   "job",
		Short: "Control scheduled jobs",
	}
	triggerCmd := &cobra.Command{
		Use:   "trigger <name>",
		Short: "Queue an immediate run of a scheduled job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				if _, err := client.JobTrigger(ipc.JobTriggerRequest{Name: args[0]}); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Triggered %s\n", args[0])
				return nil
			})
		},
	}
	jobCmd.AddCommand(triggerCmd)
	return jobCmd
}

func newPostprocessCommand(ctx *commandContext) *cobra.Command {
	postprocessCmd := &cobra.Command{
		Use:   "postprocess",
		Short: "Import completed downloads",
	}
	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Process the download directory now",
	}
	asJSON := outputFlag(runCmd)
	runCmd.RunE = func(cmd *cobra.Command, args []string) error {
		return ctx.withClient(func(client *ipc.Client) error {
			resp, err := client.PostprocessRun()
			if err != nil {
				return err
			}
			if *asJSON {
				return writeJSON(cmd, resp)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Checked %d, processed %d, failed %d, unmatched %d, pending %d\n",
				resp.Checked, resp.Processed, resp.Failed, resp.Unmatched, resp.Pending)
			return nil
		})
	}
	postprocessCmd.AddCommand(runCmd)
	return postprocessCmd
}

func newLibraryCommand(ctx *commandContext) *cobra.Command {
	libraryCmd := &cobra.Command{
		Use:   "library",
		Short: "Library maintenance",
	}
	scanCmd := &cobra.Command{
		Use:   "scan",
		Short: "Scan the library and record unmatched files",
	}
	asJSON := outputFlag(scanCmd)
	scanCmd.RunE = func(cmd *cobra.Command, args []string) error {
		return ctx.withClient(func(client *ipc.Client) error {
			resp, err := client.LibraryScan()
			if err != nil {
				return err
			}
			if *asJSON {
				return writeJSON(cmd, resp)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Scanned %d book(s): %d known, %d linked, %d unmatched, %d pruned\n",
				resp.Books, resp.Known, resp.Linked, resp.Unmatched, resp.Pruned)
			return nil
		})
	}
	libraryCmd.AddCommand(scanCmd)
	return libraryCmd
}
