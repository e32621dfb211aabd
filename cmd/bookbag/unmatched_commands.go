package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"bookbag/internal/ipc"
)

func newUnmatchedCommand(ctx *commandContext) *cobra.Command {
	unmatchedCmd := &cobra.Command{
		Use:   "unmatched",
		Short: "Review library files that match no catalog item",
	}

	var statuses []string
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List unmatched library files",
	}
	asJSON := outputFlag(listCmd)
	listCmd.Flags().StringSliceVarP(&statuses, "status", "s", []string{"pending"}, "Filter by review status (pending, matched, ignored)")
	listCmd.RunE = func(cmd *cobra.Command, args []string) error {
		return ctx.withClient(func(client *ipc.Client) error {
			resp, err := client.UnmatchedList(ipc.UnmatchedListRequest{Statuses: statuses})
			if err != nil {
				return err
			}
			if *asJSON {
				return writeJSON(cmd, resp.Files)
			}
			if len(resp.Files) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No unmatched files")
				return nil
			}
			rows := make([][]string, 0, len(resp.Files))
			for _, f := range resp.Files {
				rows = append(rows, []string{
					f.FileID,
					f.Kind,
					truncate(orDash(f.Author), 24),
					truncate(orDash(f.Title), 40),
					truncate(f.FileName, 40),
					strconv.Itoa(f.ScanCount),
					f.Status,
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"File ID", "Kind", "Author", "Title", "File", "Scans", "Status"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
			))
			return nil
		})
	}

	ignoreCmd := &cobra.Command{
		Use:   "ignore <file-id>",
		Short: "Hide a file from the unmatched list",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				if _, err := client.UnmatchedIgnore(ipc.UnmatchedIgnoreRequest{FileID: args[0]}); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Ignored %s\n", args[0])
				return nil
			})
		},
	}

	candidatesCmd := &cobra.Command{
		Use:   "candidates <file-id>",
		Short: "List catalog items that may match a file",
		Args:  cobra.ExactArgs(1),
	}
	candidatesJSON := outputFlag(candidatesCmd)
	candidatesCmd.RunE = func(cmd *cobra.Command, args []string) error {
		return ctx.withClient(func(client *ipc.Client) error {
			resp, err := client.UnmatchedCandidates(ipc.UnmatchedCandidatesRequest{FileID: args[0]})
			if err != nil {
				return err
			}
			if *candidatesJSON {
				return writeJSON(cmd, resp.Candidates)
			}
			if len(resp.Candidates) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No candidates")
				return nil
			}
			rows := make([][]string, 0, len(resp.Candidates))
			for _, c := range resp.Candidates {
				rows = append(rows, []string{
					strconv.Itoa(c.Score),
					c.Item.ID,
					truncate(c.Item.Title, 48),
					truncate(orDash(c.Item.Author), 28),
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"Score", "Item ID", "Title", "Author"},
				rows,
				[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft},
			))
			return nil
		})
	}

	matchCmd := &cobra.Command{
		Use:   "match <file-id> <item-id>",
		Short: "Link a file to a catalog item",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				if _, err := client.UnmatchedMatch(ipc.UnmatchedMatchRequest{FileID: args[0], ItemID: args[1]}); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Linked %s to %s\n", args[0], args[1])
				return nil
			})
		},
	}

	unmatchedCmd.AddCommand(listCmd, ignoreCmd, candidatesCmd, matchCmd)
	return unmatchedCmd
}
