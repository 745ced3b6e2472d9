package main

import (
	"fmt"
	"log/slog"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/Veraticus/subscription-copilot/internal/cli"
)

func connectionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "connections",
		Short: "Manage connected mail accounts",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List connected mail accounts",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			store, err := initStorage(ctx)
			if err != nil {
				return fmt.Errorf("failed to initialize storage: %w", err)
			}
			defer func() {
				if closeErr := store.Close(); closeErr != nil {
					slog.Error("Failed to close storage", "error", closeErr)
				}
			}()

			conns, err := store.GetConnections(ctx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(conns) == 0 {
				_, _ = fmt.Fprintln(out, cli.FormatInfo("No accounts connected. Run 'subs auth gmail'."))
				return nil
			}

			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
				cli.TableHeaderStyle.Render("ID"),
				cli.TableHeaderStyle.Render("Email"),
				cli.TableHeaderStyle.Render("Last scan"),
				cli.TableHeaderStyle.Render("Found"))
			for _, c := range conns {
				last := "never"
				if c.LastScan != nil {
					last = c.LastScan.Local().Format("2006-01-02 15:04")
				}
				_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\n", c.ID, c.Email, last, c.SubscriptionsFound)
			}
			return w.Flush()
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:     "remove ID",
		Aliases: []string{"rm"},
		Short:   "Disconnect a mail account",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := initStorage(ctx)
			if err != nil {
				return fmt.Errorf("failed to initialize storage: %w", err)
			}
			defer func() {
				if closeErr := store.Close(); closeErr != nil {
					slog.Error("Failed to close storage", "error", closeErr)
				}
			}()

			if err := store.RemoveConnection(ctx, args[0]); err != nil {
				return fmt.Errorf("failed to remove connection: %w", err)
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess("Removed connection "+args[0]))
			return nil
		},
	})

	return cmd
}
