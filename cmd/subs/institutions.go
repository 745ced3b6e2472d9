package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/Veraticus/subscription-copilot/internal/cli"
	"github.com/Veraticus/subscription-copilot/internal/nordigen"
)

func institutionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "institutions [search]",
		Short: "List banks available through GoCardless",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := nordigen.NewClient(cfg.NordigenClient())
			if err != nil {
				return fmt.Errorf("GoCardless credentials missing: %w", err)
			}
			country, _ := cmd.Flags().GetString("country")

			banks, err := client.Institutions(cmd.Context(), country)
			if err != nil {
				return err
			}

			var filter string
			if len(args) == 1 {
				filter = strings.ToLower(args[0])
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			_, _ = fmt.Fprintf(w, "%s\t%s\t%s\n",
				cli.TableHeaderStyle.Render("ID"),
				cli.TableHeaderStyle.Render("Name"),
				cli.TableHeaderStyle.Render("BIC"))
			for _, b := range banks {
				if filter != "" && !strings.Contains(strings.ToLower(b.Name), filter) {
					continue
				}
				_, _ = fmt.Fprintf(w, "%s\t%s\t%s\n", b.ID, b.Name, b.BIC)
			}
			return w.Flush()
		},
	}
	cmd.Flags().String("country", "DE", "two-letter country code")
	return cmd
}
