// Command referralctl operates the referral engine from a shell: schema
// migration, seeding, one-off referrals, scores, rankings and backfills.
// Commands run against the configured database, or against a running server
// when --grpc-addr is set.
package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"partyapp-referral-engine/internal/audit"
	"partyapp-referral-engine/internal/config"
	"partyapp-referral-engine/internal/database"
	"partyapp-referral-engine/internal/engine"
	"partyapp-referral-engine/internal/grpcapi"
	"partyapp-referral-engine/internal/logging"
	"partyapp-referral-engine/internal/ranking"
	"partyapp-referral-engine/internal/store"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"gopkg.in/yaml.v3"
)

var Version = "dev"

func main() {
	if err := run(context.Background(), os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, out io.Writer) error {
	a := &app{out: out}
	defer a.close()

	root := newRootCmd(a)
	root.SetArgs(args)
	root.SetOut(out)
	return root.ExecuteContext(ctx)
}

// app holds the per-invocation flags and lazily opened connections.
type app struct {
	out      io.Writer
	output   string
	grpcAddr string
	token    string
	verbose  bool

	cfg     *config.Config
	log     *zap.Logger
	db      *sql.DB
	repo    store.Repository
	parts   *engine.Components
	remote  engine.API
	closers []func()
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "referralctl",
		Short:         "Operate the referral network and ranking engine",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if a.output != "json" && a.output != "yaml" {
				return fmt.Errorf("--output must be json or yaml, got %q", a.output)
			}
			return a.setup()
		},
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&a.output, "output", "o", "json", "output format (json, yaml)")
	pf.StringVar(&a.grpcAddr, "grpc-addr", "", "call a running server instead of the database")
	pf.StringVar(&a.token, "token", "", "admin bearer token for --grpc-addr")
	pf.BoolVarP(&a.verbose, "verbose", "v", false, "log at debug level")

	root.AddCommand(
		migrateCmd(a),
		seedCmd(a),
		processCmd(a),
		scoreCmd(a),
		checkCycleCmd(a),
		rankCmd(a),
		leaderboardCmd(a),
		backfillCmd(a),
		tokenCmd(a),
		activityCmd(a),
	)
	return root
}

func (a *app) setup() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}
	level := "warn"
	if a.verbose {
		level = "debug"
	}
	log, err := logging.New(false, level)
	if err != nil {
		return err
	}
	a.cfg, a.log = cfg, log
	a.closers = append(a.closers, func() { _ = log.Sync() })
	return nil
}

// local opens the configured database and wires the engine over it.
func (a *app) local() (*engine.Components, error) {
	if a.parts != nil {
		return a.parts, nil
	}
	if a.grpcAddr != "" {
		return nil, errors.New("this command needs direct database access; drop --grpc-addr")
	}
	db, err := database.Open(a.cfg.Database.Dialect, a.cfg.Database.DSN, a.log)
	if err != nil {
		return nil, err
	}
	a.db = db
	a.closers = append(a.closers, func() { database.CloseSQL(db, a.log) })
	a.repo = store.NewSQLStore(db, a.cfg.Database.Dialect)

	var cache ranking.Cache = ranking.NopCache{}
	if a.cfg.Redis.Enabled {
		client, err := database.NewRedis(a.cfg.Redis.Addr, a.cfg.Redis.Password, a.cfg.Redis.DB, a.log)
		if err != nil {
			a.log.Warn("⚠️ Redis unavailable, cache invalidation skipped", zap.Error(err))
		} else {
			a.closers = append(a.closers, func() { database.CloseRedis(client, a.log) })
			cache = ranking.NewRedisCache(client, a.cfg.Ranking.CacheTTL)
		}
	}

	var rec audit.Recorder = audit.Nop{}
	if a.cfg.Scylla.Enabled {
		if scylla, err := a.scylla(); err != nil {
			a.log.Warn("⚠️ ScyllaDB unavailable, audit trail disabled", zap.Error(err))
		} else {
			rec = scylla
		}
	}

	a.parts = engine.Build(engine.Deps{
		Repo:             a.repo,
		Cache:            cache,
		Audit:            rec,
		Log:              a.log,
		LeaderboardLimit: a.cfg.Ranking.LeaderboardSize,
	})
	return a.parts, nil
}

func (a *app) scylla() (*database.ScyllaRepo, error) {
	r, err := database.NewScylla(a.cfg.Scylla.Hosts, a.cfg.Scylla.Keyspace, a.log)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, r.Close)
	return r, nil
}

// api returns the remote client when --grpc-addr is set and the local
// engine otherwise.
func (a *app) api() (engine.API, error) {
	if a.grpcAddr == "" {
		parts, err := a.local()
		if err != nil {
			return nil, err
		}
		return parts.Service, nil
	}
	if a.remote == nil {
		conn, err := grpc.NewClient(a.grpcAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
		if err != nil {
			return nil, fmt.Errorf("dial %s: %w", a.grpcAddr, err)
		}
		a.closers = append(a.closers, func() { _ = conn.Close() })
		a.remote = grpcapi.NewClient(conn, a.token)
	}
	return a.remote, nil
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func (a *app) print(v any) error {
	if a.output == "yaml" {
		enc := yaml.NewEncoder(a.out)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	}
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
