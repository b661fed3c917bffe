package cli

import (
	"context"
	"fmt"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/tutu-network/anoncredits/internal/daemon"
	"github.com/tutu-network/anoncredits/internal/domain"
)

// ─── Credits CLI ────────────────────────────────────────────────────────────
// Operator access to balances against the configured store. Useful with the
// durable backends; the memory backend starts empty in every process.

func init() {
	rootCmd.AddCommand(creditsCmd)
	creditsCmd.AddCommand(creditsShowCmd)
	creditsCmd.AddCommand(creditsAdjustCmd)
	creditsCmd.AddCommand(creditsGrantCmd)

	creditsShowCmd.Flags().IntP("limit", "n", 0, "number of ledger entries to show (default credits.ledger_limit)")
	creditsAdjustCmd.Flags().StringP("reason", "r", "", "reason recorded on the ledger entry")
	creditsAdjustCmd.Flags().Bool("create", false, "bootstrap the identity first if it has never been seen")
	creditsGrantCmd.Flags().StringP("reason", "r", "", "reason recorded on the ledger entry")
	creditsGrantCmd.Flags().Bool("create", false, "bootstrap the identity first if it has never been seen")
}

var creditsCmd = &cobra.Command{
	Use:   "credits",
	Short: "Inspect and adjust credit balances",
}

// ─── credits show ───────────────────────────────────────────────────────────

var creditsShowCmd = &cobra.Command{
	Use:   "show ANON_ID",
	Short: "Show balance and recent ledger entries",
	Args:  cobra.ExactArgs(1),
	RunE:  runCreditsShow,
}

func runCreditsShow(cmd *cobra.Command, args []string) error {
	anonID := args[0]
	limit, _ := cmd.Flags().GetInt("limit")

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	svc, err := openServices(cfg, adminLogger(cfg, cmd.ErrOrStderr()))
	if err != nil {
		return err
	}
	defer svc.Store.Close()

	snap, err := svc.Credits.Snapshot(cmd.Context(), anonID, limit)
	if err != nil {
		return fmt.Errorf("credits for %s: %w", anonID, err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Identity: %s\n", anonID)
	fmt.Fprintf(out, "Balance:  %d\n\n", snap.Balance)
	if len(snap.Ledger) == 0 {
		fmt.Fprintln(out, "No ledger entries.")
		return nil
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "WHEN\tKIND\tAMOUNT\tREASON")
	for _, e := range snap.Ledger {
		reason := ""
		if e.Reason != nil {
			reason = *e.Reason
		}
		fmt.Fprintf(tw, "%s\t%s\t%+d\t%s\n", e.CreatedAt.Format(time.RFC3339), e.Kind, e.Amount, reason)
	}
	return tw.Flush()
}

// ─── credits adjust ─────────────────────────────────────────────────────────

var creditsAdjustCmd = &cobra.Command{
	Use:   "adjust ANON_ID AMOUNT",
	Short: "Apply an administrative credit delta",
	Long: `Apply an administrative delta of any sign to an identity's balance.
The change is recorded as an "adjust" ledger entry.`,
	Example: `  anoncredits credits adjust 3f2a... 25 --reason promo
  anoncredits credits adjust --reason penalty -- 3f2a... -150`,
	Args: cobra.ExactArgs(2),
	RunE: runCreditsAdjust,
}

func runCreditsAdjust(cmd *cobra.Command, args []string) error {
	return runCreditsDelta(cmd, args, "Adjusted", func(ctx context.Context, svc *daemon.Services, anonID string, amount int64, reason string) (*domain.LedgerEntry, error) {
		return svc.Credits.Adjust(ctx, anonID, amount, reason)
	})
}

// ─── credits grant ──────────────────────────────────────────────────────────

var creditsGrantCmd = &cobra.Command{
	Use:   "grant ANON_ID AMOUNT",
	Short: "Grant earned credits",
	Long: `Credit a positive amount to an identity, recorded as an "earn" ledger
entry. Use this for rewards such as referrals; use adjust for corrections.`,
	Example: `  anoncredits credits grant 3f2a... 50 --reason referral`,
	Args:    cobra.ExactArgs(2),
	RunE:    runCreditsGrant,
}

func runCreditsGrant(cmd *cobra.Command, args []string) error {
	return runCreditsDelta(cmd, args, "Granted", func(ctx context.Context, svc *daemon.Services, anonID string, amount int64, reason string) (*domain.LedgerEntry, error) {
		return svc.Credits.Earn(ctx, anonID, amount, reason)
	})
}

type deltaFunc func(ctx context.Context, svc *daemon.Services, anonID string, amount int64, reason string) (*domain.LedgerEntry, error)

// runCreditsDelta parses ANON_ID AMOUNT, opens the store and applies op.
func runCreditsDelta(cmd *cobra.Command, args []string, verb string, op deltaFunc) error {
	anonID := args[0]
	amount, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil {
		return fmt.Errorf("amount %q is not an integer", args[1])
	}
	reason, _ := cmd.Flags().GetString("reason")
	create, _ := cmd.Flags().GetBool("create")

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	svc, err := openServices(cfg, adminLogger(cfg, cmd.ErrOrStderr()))
	if err != nil {
		return err
	}
	defer svc.Store.Close()

	ctx := cmd.Context()
	if create {
		if _, _, err := svc.Identities.ResolveOrCreate(ctx, anonID); err != nil {
			return err
		}
	}
	if _, err := svc.Identities.Profile(ctx, anonID); err != nil {
		return fmt.Errorf("identity %s: %w", anonID, err)
	}

	entry, err := op(ctx, svc, anonID, amount, reason)
	if err != nil {
		return err
	}
	snap, err := svc.Credits.Snapshot(ctx, anonID, 1)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "✅ %s %s %+d (entry %s). Balance: %d\n",
		verb, anonID, entry.Amount, entry.ID, snap.Balance)
	return nil
}
