package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"bookbag/internal/ipc"
	"bookbag/internal/language"
)

func newSearchCommand(ctx *commandContext) *cobra.Command {
	var (
		kind   string
		list   bool
		snatch string
	)
	cmd := &cobra.Command{
		Use:   "search <item-id>",
		Short: "Search providers for one item and snatch the best result",
		Long: `Search providers for one item and snatch the best result.

With --list every result is shown ranked by score and nothing is submitted;
pass one of the listed URLs to --snatch to submit it.`,
		Args: cobra.ExactArgs(1),
	}
	asJSON := outputFlag(cmd)
	cmd.Flags().StringVarP(&kind, "kind", "k", "ebook", "Item kind to search for (ebook or audio)")
	cmd.Flags().BoolVarP(&list, "list", "l", false, "List every result without snatching")
	cmd.Flags().StringVar(&snatch, "snatch", "", "Submit the result with this URL from a previous --list")
	cmd.MarkFlagsMutuallyExclusive("list", "snatch")
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		return ctx.withClient(func(client *ipc.Client) error {
			switch {
			case list:
				return runManualSearch(cmd, client, args[0], kind, *asJSON)
			case snatch != "":
				return runSnatch(cmd, client, args[0], kind, snatch, *asJSON)
			}
			resp, err := client.Search(ipc.SearchRequest{ItemID: args[0], Kind: kind})
			if err != nil {
				return err
			}
			if *asJSON {
				return writeJSON(cmd, resp)
			}
			out := cmd.OutOrStdout()
			for _, perr := range resp.Errors {
				fmt.Fprintf(out, "Provider error: %s\n", perr)
			}
			switch {
			case resp.Snatched:
				fmt.Fprintf(out, "Snatched %q from %s (score %d)\n", resp.Title, resp.Provider, resp.Score)
			case resp.Deferred:
				fmt.Fprintf(out, "Search deferred until %s\n", formatTime(resp.NextSearch))
			default:
				fmt.Fprintf(out, "No result snatched from %d candidate(s)", resp.Candidates)
				if resp.Reason != "" {
					fmt.Fprintf(out, ": %s", resp.Reason)
				}
				fmt.Fprintln(out)
			}
			return nil
		})
	}
	return cmd
}

func runManualSearch(cmd *cobra.Command, client *ipc.Client, itemID, kind string, asJSON bool) error {
	resp, err := client.ManualSearch(ipc.ManualSearchRequest{ItemID: itemID, Kind: kind})
	if err != nil {
		return err
	}
	if asJSON {
		return writeJSON(cmd, resp.Results)
	}
	out := cmd.OutOrStdout()
	for _, perr := range resp.Errors {
		fmt.Fprintf(out, "Provider error: %s\n", perr)
	}
	if len(resp.Results) == 0 {
		fmt.Fprintf(out, "No results for %q\n", resp.Term)
		return nil
	}
	rows := make([][]string, 0, len(resp.Results))
	for _, r := range resp.Results {
		rows = append(rows, []string{
			fmt.Sprintf("%d", r.Score),
			truncate(r.Title, 60),
			r.Provider,
			r.Mode,
			formatSize(r.Size),
			r.URL,
		})
	}
	fmt.Fprintln(out, renderTable(
		[]string{"Score", "Title", "Provider", "Mode", "Size", "URL"},
		rows,
		[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
	))
	return nil
}

func runSnatch(cmd *cobra.Command, client *ipc.Client, itemID, kind, url string, asJSON bool) error {
	resp, err := client.Snatch(ipc.SnatchRequest{ItemID: itemID, Kind: kind, URL: url})
	if err != nil {
		return err
	}
	if asJSON {
		return writeJSON(cmd, resp.Result)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Snatched %q from %s (score %d)\n", resp.Result.Title, resp.Result.Provider, resp.Result.Score)
	return nil
}

func newItemCommand(ctx *commandContext) *cobra.Command {
	itemCmd := &cobra.Command{
		Use:   "item",
		Short: "Manage catalog items",
	}
	itemCmd.AddCommand(
		newItemAddCommand(ctx),
		newItemListCommand(ctx),
		newItemClearDelayCommand(ctx),
		newItemCancelCommand(ctx),
	)
	return itemCmd
}

func newItemAddCommand(ctx *commandContext) *cobra.Command {
	var req ipc.ItemAddRequest
	cmd := &cobra.Command{
		Use:   "add <title>",
		Short: "Add a catalog item and mark it wanted",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req.Title = strings.Join(args, " ")
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.ItemAdd(req)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Added %s: %s by %s\n", resp.Item.ID, resp.Item.Title, orDash(resp.Item.Author))
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&req.Author, "author", "a", "", "Author name")
	cmd.Flags().StringVar(&req.ISBN, "isbn", "", "ISBN-10 or ISBN-13")
	cmd.Flags().StringVar(&req.Language, "language", "", "Language code")
	cmd.Flags().StringSliceVarP(&req.Kinds, "kind", "k", nil, "Kinds to want (ebook, audio); defaults to ebook")
	return cmd
}

func newItemListCommand(ctx *commandContext) *cobra.Command {
	var req ipc.ItemListRequest
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List catalog items",
	}
	asJSON := outputFlag(cmd)
	cmd.Flags().StringVarP(&req.Kind, "kind", "k", "", "Filter by kind (ebook or audio)")
	cmd.Flags().StringSliceVarP(&req.Statuses, "status", "s", nil, "Filter by status")
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		return ctx.withClient(func(client *ipc.Client) error {
			resp, err := client.ItemList(req)
			if err != nil {
				return err
			}
			if *asJSON {
				return writeJSON(cmd, resp.Items)
			}
			if len(resp.Items) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No items")
				return nil
			}
			rows := make([][]string, 0, len(resp.Items))
			for _, item := range resp.Items {
				rows = append(rows, []string{
					item.ID,
					truncate(item.Title, 48),
					truncate(orDash(item.Author), 28),
					language.DisplayName(item.Language),
					item.EbookStatus,
					item.AudioStatus,
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"ID", "Title", "Author", "Language", "Ebook", "Audio"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignLeft, alignLeft},
			))
			return nil
		})
	}
	return cmd
}

func newItemClearDelayCommand(ctx *commandContext) *cobra.Command {
	var kind string
	cmd := &cobra.Command{
		Use:   "clear-delay <item-id>",
		Short: "Reset the failed-search backoff for an item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				if _, err := client.ClearDelay(ipc.ClearDelayRequest{ItemID: args[0], Kind: kind}); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Search delay cleared for %s\n", args[0])
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&kind, "kind", "k", "ebook", "Item kind (ebook or audio)")
	return cmd
}

func newItemCancelCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <url>",
		Short: "Abort a snatched download and blacklist it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				if _, err := client.Cancel(ipc.CancelRequest{URL: args[0]}); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Download cancelled")
				return nil
			})
		},
	}
}
