package database

import (
	"context"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ScyllaRepo stores the engine activity trail.
//
//	engine_activity: partition subject, clustered newest first.
type ScyllaRepo struct {
	session *gocql.Session
	log     *zap.Logger
}

// Activity is one audit entry.
type Activity struct {
	Subject    string    `json:"subject" yaml:"subject"`
	Action     string    `json:"action" yaml:"action"`
	Detail     string    `json:"detail,omitempty" yaml:"detail,omitempty"`
	RecordedAt time.Time `json:"recorded_at" yaml:"recorded_at"`
}

const createActivityTable = `CREATE TABLE IF NOT EXISTS engine_activity (
	subject text,
	recorded_at timestamp,
	id timeuuid,
	action text,
	detail text,
	PRIMARY KEY ((subject), recorded_at, id)
) WITH CLUSTERING ORDER BY (recorded_at DESC, id DESC)`

// NewScylla connects to keyspace and makes sure the activity table exists.
func NewScylla(hosts []string, keyspace string, log *zap.Logger) (*ScyllaRepo, error) {
	log.Info("🔗 Connecting to ScyllaDB", zap.Strings("hosts", hosts), zap.String("keyspace", keyspace))

	cluster := gocql.NewCluster(hosts...)
	cluster.Keyspace = keyspace
	cluster.Consistency = gocql.Quorum
	cluster.Timeout = 5 * time.Second

	session, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("create scylla session: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := session.Query(createActivityTable).WithContext(ctx).Exec(); err != nil {
		session.Close()
		return nil, fmt.Errorf("create engine_activity in keyspace %q: %w", keyspace, err)
	}

	log.Info("✅ Connected to ScyllaDB", zap.String("keyspace", keyspace))
	return &ScyllaRepo{session: session, log: log}, nil
}

// Record appends one activity entry.
func (r *ScyllaRepo) Record(ctx context.Context, subject, action, detail string) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	query := `INSERT INTO engine_activity (subject, recorded_at, id, action, detail) VALUES (?, ?, now(), ?, ?)`
	if err := r.session.Query(query, subject, time.Now(), action, detail).WithContext(ctx).Exec(); err != nil {
		r.log.Warn("⚠️ Scylla activity write failed", zap.String("action", action), zap.Error(err))
		return err
	}
	return nil
}

// QueryActivity returns the entries of subject recorded in [since, until],
// newest first.
func (r *ScyllaRepo) QueryActivity(ctx context.Context, subject string, since, until time.Time) ([]Activity, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	query := `SELECT subject, action, detail, recorded_at FROM engine_activity WHERE subject = ? AND recorded_at >= ? AND recorded_at <= ?`
	iter := r.session.Query(query, subject, since, until).WithContext(ctx).Iter()

	var out []Activity
	var a Activity
	for iter.Scan(&a.Subject, &a.Action, &a.Detail, &a.RecordedAt) {
		out = append(out, a)
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("query activity of %s: %w", subject, err)
	}
	return out, nil
}

// CountActions counts the entries of subject per action, one query per
// action in parallel.
func (r *ScyllaRepo) CountActions(ctx context.Context, subject string, actions []string) (map[string]int, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	counts := make([]int, len(actions))
	g, gctx := errgroup.WithContext(ctx)
	for i, action := range actions {
		g.Go(func() error {
			query := `SELECT COUNT(*) FROM engine_activity WHERE subject = ? AND action = ? ALLOW FILTERING`
			if err := r.session.Query(query, subject, action).WithContext(gctx).Scan(&counts[i]); err != nil {
				return fmt.Errorf("count %s: %w", action, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make(map[string]int, len(actions))
	for i, action := range actions {
		out[action] = counts[i]
	}
	return out, nil
}

func (r *ScyllaRepo) Ping(ctx context.Context) error {
	return r.session.Query("SELECT release_version FROM system.local").WithContext(ctx).Exec()
}

func (r *ScyllaRepo) Close() {
	if r.session != nil {
		r.session.Close()
		r.log.Info("🔌 ScyllaDB session closed")
	}
}
