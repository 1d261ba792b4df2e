package main

import (
	"errors"
	"fmt"
	"time"

	"partyapp-referral-engine/internal/audit"
	"partyapp-referral-engine/internal/database"
	"partyapp-referral-engine/internal/utils"

	"github.com/spf13/cobra"
)

func migrateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the members, referrals and rankings tables",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if _, err := a.local(); err != nil {
				return err
			}
			if err := database.CreateTables(cmd.Context(), a.db, a.cfg.Database.Dialect, a.log); err != nil {
				return err
			}
			return a.print(map[string]string{"status": "ok", "dialect": string(a.cfg.Database.Dialect)})
		},
	}
}

func processCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "process <referrer-id> <referee-id>",
		Short: "Attribute a registration to its referrer chain",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := a.api()
			if err != nil {
				return err
			}
			res, err := api.ProcessReferral(cmd.Context(), args[0], args[1])
			if res != nil {
				if perr := a.print(res); perr != nil {
					return perr
				}
			}
			return err
		},
	}
}

func scoreCmd(a *app) *cobra.Command {
	var persist bool
	cmd := &cobra.Command{
		Use:   "score <member-id>",
		Short: "Show the live score breakdown of a member",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if persist {
				parts, err := a.local()
				if err != nil {
					return err
				}
				b, err := parts.Processor.RecomputeScore(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return a.print(b)
			}
			api, err := a.api()
			if err != nil {
				return err
			}
			b, err := api.GetScore(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return a.print(b)
		},
	}
	cmd.Flags().BoolVar(&persist, "persist", false, "write the recomputed score to the member record")
	return cmd
}

func checkCycleCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "check-cycle <referrer-id> <referee-id>",
		Short: "Report whether attributing referee to referrer would close a loop",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := a.api()
			if err != nil {
				return err
			}
			circular, err := api.CheckCycle(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			return a.print(map[string]bool{"circular": circular})
		},
	}
}

func rankCmd(a *app) *cobra.Command {
	var (
		all    bool
		period string
	)
	cmd := &cobra.Command{
		Use:   "rank [district-id]",
		Short: "Recompute the ranking snapshot of one district or, with --all, every district",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if all == (len(args) == 1) {
				return errors.New("pass exactly one of a district id or --all")
			}
			api, err := a.api()
			if err != nil {
				return err
			}
			if all {
				batch, err := api.ComputeAllDistricts(cmd.Context(), period)
				if err != nil {
					return err
				}
				return a.print(batch)
			}
			sum, err := api.ComputeDistrictRankings(cmd.Context(), args[0], period)
			if err != nil {
				return err
			}
			return a.print(sum)
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "rank every district with an active member")
	cmd.Flags().StringVar(&period, "period", "", "period key YYYY-MM (default: current month)")
	return cmd
}

func leaderboardCmd(a *app) *cobra.Command {
	var (
		limit    int
		period   string
		province string
	)
	cmd := &cobra.Command{
		Use:   "leaderboard",
		Short: "Read leaderboards",
	}

	district := &cobra.Command{
		Use:   "district <district-id>",
		Short: "Ranking snapshot of one district",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := a.api()
			if err != nil {
				return err
			}
			rows, err := api.DistrictLeaderboard(cmd.Context(), args[0], limit, period)
			if err != nil {
				return err
			}
			return a.print(rows)
		},
	}
	district.Flags().IntVar(&limit, "limit", 0, "maximum rows (default 50, max 500)")
	district.Flags().StringVar(&period, "period", "", "period key YYYY-MM (default: current month)")

	national := &cobra.Command{
		Use:   "national",
		Short: "Active members across every district by score",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			api, err := a.api()
			if err != nil {
				return err
			}
			rows, err := api.NationalLeaderboard(cmd.Context(), limit)
			if err != nil {
				return err
			}
			return a.print(rows)
		},
	}
	national.Flags().IntVar(&limit, "limit", 0, "maximum rows (default 50, max 500)")

	candidates := &cobra.Command{
		Use:   "candidates",
		Short: "Rank-1 member of every district",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			api, err := a.api()
			if err != nil {
				return err
			}
			rows, err := api.Candidates(cmd.Context(), province, period)
			if err != nil {
				return err
			}
			return a.print(rows)
		},
	}
	candidates.Flags().StringVar(&province, "province", "", "restrict to one province")
	candidates.Flags().StringVar(&period, "period", "", "period key YYYY-MM (default: current month)")

	cmd.AddCommand(district, national, candidates)
	return cmd
}

func backfillCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "backfill",
		Short: "Rebuild the ledger, scores and rankings from the referral graph",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			api, err := a.api()
			if err != nil {
				return err
			}
			rep, err := api.Backfill(cmd.Context())
			if rep != nil {
				if perr := a.print(rep); perr != nil {
					return perr
				}
			}
			return err
		},
	}
}

func tokenCmd(a *app) *cobra.Command {
	var (
		subject string
		secret  string
		expiry  time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Sign an admin bearer token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if secret == "" {
				secret = a.cfg.Auth.AdminJWTSecret
			}
			if expiry == 0 {
				expiry = a.cfg.Auth.TokenExpiry
			}
			token, err := utils.GenerateAdminToken(subject, secret, expiry)
			if err != nil {
				return err
			}
			return a.print(map[string]string{
				"token":      token,
				"subject":    subject,
				"expires_at": time.Now().Add(expiry).UTC().Format(time.RFC3339),
			})
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "who the token is issued to")
	cmd.Flags().StringVar(&secret, "secret", "", "signing secret (default ADMIN_JWT_SECRET)")
	cmd.Flags().DurationVar(&expiry, "expiry", 0, "token lifetime (default ADMIN_TOKEN_EXPIRY)")
	_ = cmd.MarkFlagRequired("subject")
	return cmd
}

func activityCmd(a *app) *cobra.Command {
	var since time.Duration
	cmd := &cobra.Command{
		Use:   "activity <subject>",
		Short: "Show the audit trail of a member, district or job from ScyllaDB",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !a.cfg.Scylla.Enabled {
				return errors.New("the audit trail needs SCYLLA_ENABLED=true")
			}
			repo, err := a.scylla()
			if err != nil {
				return err
			}
			now := time.Now()
			entries, err := repo.QueryActivity(cmd.Context(), args[0], now.Add(-since), now)
			if err != nil {
				return err
			}
			counts, err := repo.CountActions(cmd.Context(), args[0], []string{
				audit.ActionReferralProcessed,
				audit.ActionReferralRejected,
				audit.ActionLedgerWriteFailed,
				audit.ActionScoreFailed,
				audit.ActionRankingComputed,
				audit.ActionRankingFailed,
			})
			if err != nil {
				return fmt.Errorf("count actions: %w", err)
			}
			return a.print(map[string]any{"subject": args[0], "entries": entries, "totals": counts})
		},
	}
	cmd.Flags().DurationVar(&since, "since", 7*24*time.Hour, "how far back to read")
	return cmd
}
