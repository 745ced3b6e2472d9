package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/Veraticus/subscription-copilot/internal/cli"
	"github.com/Veraticus/subscription-copilot/internal/model"
)

func subscriptionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "subscriptions",
		Aliases: []string{"sub"},
		Short:   "Manage the stored subscription list",
	}

	cmd.AddCommand(subscriptionsListCmd())
	cmd.AddCommand(subscriptionsAddCmd())
	cmd.AddCommand(subscriptionsDeleteCmd())

	return cmd
}

func subscriptionsListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored subscriptions",
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

			subs, err := store.GetSubscriptions(ctx)
			if err != nil {
				return err
			}

			if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(subs)
			}
			return cli.RenderSubscriptions(cmd.OutOrStdout(), subs)
		},
	}
	cmd.Flags().Bool("json", false, "print as JSON")
	return cmd
}

func subscriptionsAddCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add NAME PRICE",
		Short: "Add a subscription by hand",
		Example: `  subs subscriptions add Netflix 12.99
  subs subscriptions add "Adobe Creative Cloud" 659.88 --cycle yearly --category Design`,
		Args: cobra.ExactArgs(2),
		RunE: runSubscriptionsAdd,
	}

	cmd.Flags().String("currency", "€", "currency symbol or ISO code")
	cmd.Flags().String("cycle", string(model.CycleMonthly), "billing cycle (weekly, monthly, quarterly, yearly)")
	cmd.Flags().String("category", "Other", "category")

	return cmd
}

func runSubscriptionsAdd(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	name := strings.TrimSpace(args[0])
	if name == "" {
		return fmt.Errorf("name is required")
	}
	price, err := decimal.NewFromString(args[1])
	if err != nil {
		return fmt.Errorf("invalid price %q: %w", args[1], err)
	}
	currency, _ := cmd.Flags().GetString("currency")
	cycle, _ := cmd.Flags().GetString("cycle")
	category, _ := cmd.Flags().GetString("category")

	store, err := initStorage(ctx)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer func() {
		if closeErr := store.Close(); closeErr != nil {
			slog.Error("Failed to close storage", "error", closeErr)
		}
	}()

	sub := &model.Subscription{
		Name:       name,
		Price:      decimal.NewNullDecimal(price),
		Currency:   currency,
		Cycle:      model.Cycle(cycle),
		Category:   category,
		Confidence: 1,
	}
	if err := store.CreateSubscription(ctx, sub); err != nil {
		return fmt.Errorf("failed to add subscription: %w", err)
	}

	_, _ = fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess(fmt.Sprintf("Added %s (%s)", sub.Name, sub.ID)))
	return nil
}

func subscriptionsDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "delete ID",
		Aliases: []string{"rm"},
		Short:   "Delete a subscription",
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

			if err := store.DeleteSubscription(ctx, args[0]); err != nil {
				return fmt.Errorf("failed to delete subscription: %w", err)
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess("Deleted "+args[0]))
			return nil
		},
	}
}
