package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/warp/rent-ledger/app"
	"github.com/warp/rent-ledger/config"
	"github.com/warp/rent-ledger/latefee"
	"github.com/warp/rent-ledger/ledger"
	"github.com/warp/rent-ledger/logging"
	"github.com/warp/rent-ledger/rent"
	"github.com/warp/rent-ledger/seed"
	"github.com/warp/rent-ledger/session"
)

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "rentctl",
		Short:         "Rent ledger operations",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to YAML config file")

	open := func(ctx context.Context) (*app.App, error) {
		cfg, err := config.Load(configPath)
		if err != nil {
			return nil, err
		}
		logging.Setup(cfg.Log.Level, cfg.Log.Format)
		return app.Open(ctx, cfg)
	}

	root.AddCommand(
		chargeRentCmd(open),
		applyLateFeesCmd(open),
		sendLateRemindersCmd(open),
		balanceCmd(open),
		seedCmd(open),
		tokenCmd(&configPath),
	)
	return root
}

type opener func(ctx context.Context) (*app.App, error)

func chargeRentCmd(open opener) *cobra.Command {
	var (
		month    string
		dryRun   bool
		noNotify bool
	)
	cmd := &cobra.Command{
		Use:   "charge-rent",
		Short: "Charge a month's rent to every active tenancy",
		Long: `Charge rent for --month (default: current month) to every active tenancy.
Tenancies already charged for the month are skipped, so re-running is safe.
Exits non-zero if any tenancy failed.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			if month == "" {
				month = ledger.PeriodOf(time.Now().UTC()).Label()
			}
			res, err := a.Engine.ChargeAll(cmd.Context(), month, rent.Options{
				Session: session.System(),
				DryRun:  dryRun,
				Notify:  !noNotify,
			})
			if err != nil {
				return err
			}
			printChargeResult(cmd.OutOrStdout(), res)
			if !res.Success() {
				return fmt.Errorf("%d tenancies failed", len(res.Errors))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&month, "month", "", `billing month, e.g. "March 2026" or 2026-03`)
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report what would be charged without writing")
	cmd.Flags().BoolVar(&noNotify, "no-notify", false, "do not notify charged tenants")
	return cmd
}

func printChargeResult(w io.Writer, res *rent.ChargingResult) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TENANT\tUNIT\tOUTCOME\tAMOUNT")
	for _, o := range res.Outcomes {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", o.TenantName, o.UnitLabel, o.Outcome, o.Amount)
	}
	tw.Flush()

	verb := "charged"
	if res.DryRun {
		verb = "would charge"
	}
	fmt.Fprintf(w, "\n%s: %s %d, skipped %d, total %s\n", res.Period.Label(), verb, res.Charged, res.Skipped, res.TotalAmount)
	for _, e := range res.Errors {
		fmt.Fprintf(w, "error: %s\n", e)
	}
}

func applyLateFeesCmd(open opener) *cobra.Command {
	var (
		asOf      string
		graceDays int
		percent   string
		minimum   string
		dryRun    bool
		notify    bool
	)
	cmd := &cobra.Command{
		Use:   "apply-late-fees",
		Short: "Charge late fees to tenancies past the grace period",
		RunE: func(cmd *cobra.Command, args []string) error {
			date := time.Now().UTC()
			if asOf != "" {
				var err error
				if date, err = time.Parse("2006-01-02", asOf); err != nil {
					return fmt.Errorf("invalid --as-of %q (use YYYY-MM-DD): %w", asOf, err)
				}
			}

			a, err := open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			assessor := *a.Assessor
			if cmd.Flags().Changed("grace-days") {
				assessor.Policy.GraceDays = graceDays
			}
			if cmd.Flags().Changed("late-fee-percent") {
				if assessor.Policy.Percent, err = decimal.NewFromString(percent); err != nil {
					return fmt.Errorf("invalid --late-fee-percent %q: %w", percent, err)
				}
			}
			if cmd.Flags().Changed("min-late-fee") {
				v, err := decimal.NewFromString(minimum)
				if err != nil {
					return fmt.Errorf("invalid --min-late-fee %q: %w", minimum, err)
				}
				assessor.Policy.Minimum = ledger.Money{Value: v, Currency: ledger.DefaultCurrency}
			}

			res, err := assessor.Apply(cmd.Context(), date, latefee.Options{
				Session: session.System(),
				DryRun:  dryRun,
				Notify:  notify,
			})
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "TENANT\tDAYS\tBALANCE\tFEE\tOUTCOME")
			for _, it := range res.Items {
				fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%s\n", it.TenantName, it.DaysOverdue, it.Balance, it.Fee, it.Outcome)
			}
			tw.Flush()
			fmt.Fprintf(w, "\n%s: applied %d, skipped %d, total %s\n", res.Period.Label(), res.Applied, res.Skipped, res.Total)
			if len(res.Errors) > 0 {
				return fmt.Errorf("%d tenancies failed", len(res.Errors))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&asOf, "as-of", "", "assessment date YYYY-MM-DD (default: today)")
	cmd.Flags().IntVar(&graceDays, "grace-days", latefee.DefaultGraceDays, "days after the oldest charge before a fee applies")
	cmd.Flags().StringVar(&percent, "late-fee-percent", "", "fee as a percent of monthly rent (default from config)")
	cmd.Flags().StringVar(&minimum, "min-late-fee", "", "minimum fee (default from config)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report fees without writing")
	cmd.Flags().BoolVar(&notify, "notify", false, "notify charged tenants")
	return cmd
}

func sendLateRemindersCmd(open opener) *cobra.Command {
	var (
		asOf   string
		days   int
		dryRun bool
	)
	cmd := &cobra.Command{
		Use:   "send-late-reminders",
		Short: "Remind tenancies whose latest charge is unpaid after --days",
		Long: `Send a late payment reminder to every active tenancy with a positive
balance whose most recent charge is at least --days old. Nothing is posted
to the ledger, so each run sends again.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			date := time.Now().UTC()
			if asOf != "" {
				var err error
				if date, err = time.Parse("2006-01-02", asOf); err != nil {
					return fmt.Errorf("invalid --as-of %q (use YYYY-MM-DD): %w", asOf, err)
				}
			}

			a, err := open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			reminder := *a.Reminder
			if cmd.Flags().Changed("days") {
				reminder.Days = days
			}
			res, err := reminder.Send(cmd.Context(), date, latefee.ReminderOptions{DryRun: dryRun})
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "TENANT\tDAYS LATE\tAMOUNT DUE\tOUTCOME")
			for _, n := range res.Notices {
				fmt.Fprintf(tw, "%s\t%d\t%s\t%s\n", n.TenantName, n.DaysLate, n.AmountDue, n.Outcome)
			}
			tw.Flush()

			verb := "sent"
			if res.DryRun {
				verb = "would send"
			}
			fmt.Fprintf(w, "\n%s: checked %d, %s %d\n", res.AsOf.Format("2006-01-02"), res.Checked, verb, res.Sent)
			for _, e := range res.Errors {
				fmt.Fprintf(w, "error: %s\n", e)
			}
			if len(res.Errors) > 0 {
				return fmt.Errorf("%d reminders failed", len(res.Errors))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&asOf, "as-of", "", "reminder date YYYY-MM-DD (default: today)")
	cmd.Flags().IntVar(&days, "days", latefee.DefaultReminderDays, "days since the latest charge before reminding")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "list reminders without sending")
	return cmd
}

func balanceCmd(open opener) *cobra.Command {
	return &cobra.Command{
		Use:   "balance <tenancy-id>",
		Short: "Show a tenancy's balance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := cmd.Context()
			t, err := a.Repo.GetTenancy(ctx, ledger.TenancyID(args[0]))
			if err != nil {
				return err
			}
			entries, err := a.Repo.Entries(ctx, t.ID)
			if err != nil {
				return err
			}
			s := ledger.Summarize(t.ID, entries)

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "%s (%s)\n", t.TenantName, t.UnitLabel)
			fmt.Fprintf(w, "  charges:  %s\n", s.TotalCharges)
			fmt.Fprintf(w, "  payments: %s\n", s.TotalPayments)
			fmt.Fprintf(w, "  balance:  %s\n", s.Balance)
			return nil
		},
	}
}

func seedCmd(open opener) *cobra.Command {
	var scenario string
	cmd := &cobra.Command{
		Use:       "seed [scenario]",
		Short:     "Load a demo scenario (small, mixed)",
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: []string{"small", "mixed"},
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				scenario = args[0]
			}
			if scenario == "" {
				return fmt.Errorf("scenario is required")
			}

			a, err := open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			loaded, err := seed.Load(cmd.Context(), a.Repo, scenario, time.Now().UTC())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "loaded %s: %d units, %d tenancies, %d entries\n",
				loaded.Scenario.ID, loaded.Units, loaded.Tenancies, loaded.Entries)
			return nil
		},
	}
	cmd.Flags().StringVar(&scenario, "scenario", "", "scenario ID")
	return cmd
}

func tokenCmd(configPath *string) *cobra.Command {
	var (
		userID string
		name   string
		role   string
		ttl    time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an API bearer token signed with the configured secret",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			if cfg.JWT.Secret == "" {
				return fmt.Errorf("RENT_JWT_SECRET is not set")
			}
			r := session.Role(role)
			if !r.Valid() {
				return fmt.Errorf("unknown role %q", role)
			}
			if ttl == 0 {
				ttl = cfg.JWT.TokenTTL
			}
			tok, err := session.IssueToken(cfg.JWT.Secret, session.Session{UserID: userID, Name: name, Role: r}, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user ID recorded as created-by")
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringVar(&role, "role", string(session.RoleManager), "ADMIN, MANAGER, ACCOUNTANT, MAINTENANCE or TENANT")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (default from config)")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}
