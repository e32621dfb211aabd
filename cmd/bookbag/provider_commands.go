package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"bookbag/internal/config"
	"bookbag/internal/ipc"
	"bookbag/internal/logging"
)

func newProviderCommand(ctx *commandContext) *cobra.Command {
	providerCmd := &cobra.Command{
		Use:   "provider",
		Short: "Manage search providers",
	}

	addSlotCmd := &cobra.Command{
		Use:   "add-slot <family>",
		Short: "Append an empty provider slot (newznab, torznab, rss, direct)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			family := config.ProviderFamily(strings.ToLower(strings.TrimSpace(args[0])))
			name, err := cfg.Providers.AppendProviderSlot(family)
			if err != nil {
				return err
			}
			if err := cfg.Save(ctx.configPath, logging.NewNop()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Added %s slot %s to %s\n", family, name, ctx.configPath)
			fmt.Fprintln(cmd.OutOrStdout(), "Restart the daemon after filling in the slot.")
			return nil
		},
	}

	usageCmd := &cobra.Command{
		Use:   "usage",
		Short: "Show today's provider API usage",
	}
	asJSON := outputFlag(usageCmd)
	usageCmd.RunE = func(cmd *cobra.Command, args []string) error {
		return ctx.withClient(func(client *ipc.Client) error {
			resp, err := client.ProviderUsage()
			if err != nil {
				return err
			}
			if *asJSON {
				return writeJSON(cmd, resp.Usage)
			}
			if len(resp.Usage) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No provider calls recorded today")
				return nil
			}
			rows := make([][]string, 0, len(resp.Usage))
			for _, u := range resp.Usage {
				rows = append(rows, []string{u.Name, u.Day, strconv.Itoa(u.Count)})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"Provider", "Day", "Calls"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignRight},
			))
			return nil
		})
	}

	providerCmd.AddCommand(addSlotCmd, usageCmd)
	return providerCmd
}
