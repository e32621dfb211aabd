package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"bookbag/internal/ipc"
)

func newWantedCommand(ctx *commandContext) *cobra.Command {
	wantedCmd := &cobra.Command{
		Use:   "wanted",
		Short: "Inspect acquisition attempts",
	}

	var phases []string
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List wanted entries",
	}
	asJSON := outputFlag(listCmd)
	listCmd.Flags().StringSliceVarP(&phases, "phase", "p", nil, "Filter by phase (Snatched, Processed, Failed, ...)")
	listCmd.RunE = func(cmd *cobra.Command, args []string) error {
		return ctx.withClient(func(client *ipc.Client) error {
			resp, err := client.WantedList(ipc.WantedListRequest{Phases: phases})
			if err != nil {
				return err
			}
			if *asJSON {
				return writeJSON(cmd, resp.Entries)
			}
			if len(resp.Entries) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No wanted entries")
				return nil
			}
			rows := make([][]string, 0, len(resp.Entries))
			for _, e := range resp.Entries {
				rows = append(rows, []string{
					e.Phase,
					e.Kind,
					truncate(e.Title, 48),
					e.Provider,
					orDash(e.Client),
					formatSize(e.Size),
					formatTime(e.UpdatedAt),
					truncate(orDash(e.Message), 32),
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"Phase", "Kind", "Title", "Provider", "Client", "Size", "Updated", "Message"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignLeft, alignLeft},
			))
			return nil
		})
	}

	var olderThan int
	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove Processed and Failed entries from history",
		RunE: func(cmd *cobra.Command, args []string) error {
			if olderThan < 0 {
				return fmt.Errorf("--older-than must not be negative")
			}
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.WantedClear(ipc.WantedClearRequest{OlderThanHours: olderThan})
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %d entr%s\n", resp.Removed, plural(resp.Removed, "y", "ies"))
				return nil
			})
		},
	}
	clearCmd.Flags().IntVar(&olderThan, "older-than", 0, "Only remove entries last updated more than this many hours ago")

	wantedCmd.AddCommand(listCmd, clearCmd)
	return wantedCmd
}

func newBlacklistCommand(ctx *commandContext) *cobra.Command {
	blacklistCmd := &cobra.Command{
		Use:   "blacklist",
		Short: "Manage rejected download URLs",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List blacklisted URLs",
	}
	asJSON := outputFlag(listCmd)
	listCmd.RunE = func(cmd *cobra.Command, args []string) error {
		return ctx.withClient(func(client *ipc.Client) error {
			resp, err := client.BlacklistList()
			if err != nil {
				return err
			}
			if *asJSON {
				return writeJSON(cmd, resp.Entries)
			}
			if len(resp.Entries) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "Blacklist is empty")
				return nil
			}
			rows := make([][]string, 0, len(resp.Entries))
			for _, e := range resp.Entries {
				scope := "all items"
				if e.ItemID != "" {
					scope = e.ItemID
				}
				rows = append(rows, []string{
					strconv.FormatInt(e.ID, 10),
					e.Reason,
					truncate(orDash(e.Title), 40),
					truncate(e.URL, 48),
					scope,
					formatTime(e.CreatedAt),
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"ID", "Reason", "Title", "URL", "Scope", "Added"},
				rows,
				[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft, alignLeft, alignLeft},
			))
			return nil
		})
	}

	var reason string
	addCmd := &cobra.Command{
		Use:   "add <url>",
		Short: "Blacklist a URL for every item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				if _, err := client.BlacklistAdd(ipc.BlacklistAddRequest{URL: args[0], Reason: reason}); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "URL blacklisted")
				return nil
			})
		},
	}
	addCmd.Flags().StringVar(&reason, "reason", "UserBlacklisted", "Reason recorded with the entry")

	removeCmd := &cobra.Command{
		Use:   "remove <id>",
		Short: "Remove a blacklist entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid blacklist id %q", args[0])
			}
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.BlacklistRemove(ipc.BlacklistRemoveRequest{ID: id})
				if err != nil {
					return err
				}
				if !resp.Removed {
					fmt.Fprintf(cmd.OutOrStdout(), "No blacklist entry %d\n", id)
					return nil
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed blacklist entry %d\n", id)
				return nil
			})
		},
	}

	blacklistCmd.AddCommand(listCmd, addCmd, removeCmd)
	return blacklistCmd
}

func plural(n int64, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
