package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"partyapp-referral-engine/internal/database"
	"partyapp-referral-engine/internal/member"
	"partyapp-referral-engine/internal/ranking"
	"partyapp-referral-engine/internal/referral"
)

const (
	queryTimeout = 3 * time.Second
	batchTimeout = 30 * time.Second

	// inChunk bounds the number of bind parameters of one IN list.
	inChunk = 500
)

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// SQLStore implements Repository on MySQL, Postgres or SQLite. Queries are
// written with ? placeholders and rebound per dialect.
type SQLStore struct {
	db *sql.DB
	q  queries
}

func NewSQLStore(db *sql.DB, dialect database.Dialect) *SQLStore {
	return &SQLStore{db: db, q: queries{db: db, dialect: dialect}}
}

func (s *SQLStore) Ping(ctx context.Context) error {
	return database.CheckSQLHealth(ctx, s.db)
}

func (s *SQLStore) UpsertMember(ctx context.Context, m *member.Member) error {
	return s.q.upsertMember(ctx, m)
}

func (s *SQLStore) GetMember(ctx context.Context, id string) (*member.Member, error) {
	return s.q.getMember(ctx, id)
}

func (s *SQLStore) ListAllMembers(ctx context.Context) ([]*member.Member, error) {
	ctx, cancel := context.WithTimeout(ctx, batchTimeout)
	defer cancel()
	return s.q.listMembers(ctx, memberColumns+` FROM members ORDER BY created_at, id`)
}

func (s *SQLStore) ListActiveReferrals(ctx context.Context, referrerIDs []string) ([]*member.Member, error) {
	return s.q.listActiveReferrals(ctx, referrerIDs)
}

func (s *SQLStore) ListActiveDistricts(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()
	return s.q.listStrings(ctx, `SELECT DISTINCT district_id FROM members WHERE status = ? ORDER BY district_id`, string(member.StatusActive))
}

func (s *SQLStore) ListTopMembers(ctx context.Context, limit int) ([]*member.Member, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()
	return s.q.listMembers(ctx, memberColumns+` FROM members WHERE status = ? ORDER BY score DESC, created_at, id LIMIT ?`,
		string(member.StatusActive), limit)
}

func (s *SQLStore) UpdateMemberScore(ctx context.Context, id string, score int) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()
	if _, err := s.q.exec(ctx, `UPDATE members SET score = ? WHERE id = ?`, score, id); err != nil {
		return fmt.Errorf("update score of %s: %w", id, err)
	}
	return nil
}

func (s *SQLStore) ZeroNonReferrerScores(ctx context.Context) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, batchTimeout)
	defer cancel()
	res, err := s.q.exec(ctx, `UPDATE members SET score = 0
		WHERE score > 0 AND id NOT IN (SELECT DISTINCT referrer_id FROM referrals)`)
	if err != nil {
		return 0, fmt.Errorf("zero non-referrer scores: %w", err)
	}
	return res.RowsAffected()
}

func (s *SQLStore) UpsertReferral(ctx context.Context, r *referral.Referral) error {
	return s.q.upsertReferral(ctx, r)
}

func (s *SQLStore) ListReferrals(ctx context.Context) ([]*referral.Referral, error) {
	ctx, cancel := context.WithTimeout(ctx, batchTimeout)
	defer cancel()

	rows, err := s.q.query(ctx, `SELECT id, referrer_id, referee_id, level, points, status, verified_at, created_at, updated_at
		FROM referrals ORDER BY referee_id, level`)
	if err != nil {
		return nil, fmt.Errorf("list referrals: %w", err)
	}
	defer rows.Close()

	var out []*referral.Referral
	for rows.Next() {
		var (
			r                     referral.Referral
			verified, created, up database.NullTime
		)
		if err := rows.Scan(&r.ID, &r.ReferrerID, &r.RefereeID, &r.Level, &r.Points, &r.Status, &verified, &created, &up); err != nil {
			return nil, fmt.Errorf("scan referral: %w", err)
		}
		r.VerifiedAt = verified.Ptr()
		r.CreatedAt, r.UpdatedAt = created.Time, up.Time
		out = append(out, &r)
	}
	return out, rows.Err()
}

func (s *SQLStore) ListReferrerIDs(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, batchTimeout)
	defer cancel()
	return s.q.listStrings(ctx, `SELECT DISTINCT referrer_id FROM referrals ORDER BY referrer_id`)
}

func (s *SQLStore) ListDistrictRankings(ctx context.Context, districtID, period string, limit int) ([]*ranking.Ranking, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	query := rankingColumns + ` WHERE r.district_id = ? AND r.period_key = ? ORDER BY r.rank_position`
	args := []any{districtID, period}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	return s.q.listRankings(ctx, query, args...)
}

func (s *SQLStore) ListCandidates(ctx context.Context, provinceID, period string) ([]*ranking.Ranking, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	query := rankingColumns + ` WHERE r.period_key = ? AND r.rank_position = 1`
	args := []any{period}
	if provinceID != "" {
		query += ` AND r.province_id = ?`
		args = append(args, provinceID)
	}
	query += ` ORDER BY r.score DESC, r.district_id`
	return s.q.listRankings(ctx, query, args...)
}

// RunInTx commits when fn returns nil and rolls back otherwise.
func (s *SQLStore) RunInTx(ctx context.Context, fn func(tx ranking.TxStore) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(sqlTx{queries{db: tx, dialect: s.q.dialect}}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			return errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// sqlTx is the ranking.TxStore view bound to one *sql.Tx.
type sqlTx struct{ q queries }

func (t sqlTx) ListActiveReferrals(ctx context.Context, referrerIDs []string) ([]*member.Member, error) {
	return t.q.listActiveReferrals(ctx, referrerIDs)
}

func (t sqlTx) ListActiveMembersByDistrict(ctx context.Context, districtID string) ([]*member.Member, error) {
	ctx, cancel := context.WithTimeout(ctx, batchTimeout)
	defer cancel()
	return t.q.listMembers(ctx, memberColumns+` FROM members WHERE district_id = ? AND status = ? ORDER BY created_at, id`,
		districtID, string(member.StatusActive))
}

func (t sqlTx) UpsertRanking(ctx context.Context, r *ranking.Ranking) error {
	return t.q.upsertRanking(ctx, r)
}

func (t sqlTx) UpdateMemberScoreRank(ctx context.Context, id string, score int, rank *int) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()
	var rankArg any
	if rank != nil {
		rankArg = *rank
	}
	if _, err := t.q.exec(ctx, `UPDATE members SET score = ?, rank_position = ? WHERE id = ?`, score, rankArg, id); err != nil {
		return fmt.Errorf("update score/rank of %s: %w", id, err)
	}
	return nil
}

func (t sqlTx) DeleteStaleRankings(ctx context.Context, districtID, period string) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()
	res, err := t.q.exec(ctx, `DELETE FROM rankings
		WHERE district_id = ? AND period_key = ?
		AND member_id NOT IN (SELECT id FROM members WHERE district_id = ? AND status = ?)`,
		districtID, period, districtID, string(member.StatusActive))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (t sqlTx) ClearInactiveRanks(ctx context.Context, districtID string) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()
	res, err := t.q.exec(ctx, `UPDATE members SET rank_position = NULL
		WHERE district_id = ? AND status <> ? AND rank_position IS NOT NULL`,
		districtID, string(member.StatusActive))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// queries holds the statements shared by the pool and transaction views.
type queries struct {
	db      querier
	dialect database.Dialect
}

const memberColumns = `SELECT id, full_name, referred_by_id, status, score, rank_position,
	district_id, province_id, last_active_at, created_at`

const rankingColumns = `SELECT r.id, r.member_id, COALESCE(m.full_name, ''), r.district_id, r.province_id,
	r.period_key, r.score, r.rank_position, r.is_candidate, r.computed_at
	FROM rankings r LEFT JOIN members m ON m.id = r.member_id`

func (q queries) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return q.db.ExecContext(ctx, q.dialect.Rebind(query), args...)
}

func (q queries) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return q.db.QueryContext(ctx, q.dialect.Rebind(query), args...)
}

func (q queries) getMember(ctx context.Context, id string) (*member.Member, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	row := q.db.QueryRowContext(ctx, q.dialect.Rebind(memberColumns+` FROM members WHERE id = ?`), id)
	m, err := scanMember(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", member.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get member %s: %w", id, err)
	}
	return m, nil
}

func (q queries) upsertMember(ctx context.Context, m *member.Member) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	if m.ID == "" {
		return fmt.Errorf("member id is required")
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	var rank any
	if m.Rank != nil {
		rank = *m.Rank
	}
	var referredBy any
	if m.ReferredByID != nil {
		referredBy = *m.ReferredByID
	}

	insert := `INSERT INTO members (id, full_name, referred_by_id, status, score, rank_position,
		district_id, province_id, last_active_at, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	var query string
	if q.dialect == database.MySQL {
		query = insert + ` ON DUPLICATE KEY UPDATE full_name = VALUES(full_name), referred_by_id = VALUES(referred_by_id),
			status = VALUES(status), score = VALUES(score), rank_position = VALUES(rank_position),
			district_id = VALUES(district_id), province_id = VALUES(province_id), last_active_at = VALUES(last_active_at)`
	} else {
		query = insert + ` ON CONFLICT (id) DO UPDATE SET full_name = excluded.full_name, referred_by_id = excluded.referred_by_id,
			status = excluded.status, score = excluded.score, rank_position = excluded.rank_position,
			district_id = excluded.district_id, province_id = excluded.province_id, last_active_at = excluded.last_active_at`
	}

	_, err := q.exec(ctx, query, m.ID, m.FullName, referredBy, string(m.Status), m.Score, rank,
		m.DistrictID, m.ProvinceID, q.dialect.NullTimeArg(m.LastActiveAt), q.dialect.TimeArg(m.CreatedAt))
	if err != nil {
		return fmt.Errorf("upsert member %s: %w", m.ID, err)
	}
	return nil
}

// upsertReferral keeps the id, created_at and first verified_at of an
// existing (referrer_id, referee_id) row and copies them back into r.
func (q queries) upsertReferral(ctx context.Context, r *referral.Referral) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	insert := `INSERT INTO referrals (id, referrer_id, referee_id, level, points, status, verified_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	var query string
	if q.dialect == database.MySQL {
		query = insert + ` ON DUPLICATE KEY UPDATE level = VALUES(level), points = VALUES(points), status = VALUES(status),
			verified_at = COALESCE(verified_at, VALUES(verified_at)), updated_at = VALUES(updated_at)`
	} else {
		query = insert + ` ON CONFLICT (referrer_id, referee_id) DO UPDATE SET level = excluded.level,
			points = excluded.points, status = excluded.status,
			verified_at = COALESCE(referrals.verified_at, excluded.verified_at), updated_at = excluded.updated_at`
	}

	_, err := q.exec(ctx, query, r.ID, r.ReferrerID, r.RefereeID, int(r.Level), r.Points, string(r.Status),
		q.dialect.NullTimeArg(r.VerifiedAt), q.dialect.TimeArg(r.CreatedAt), q.dialect.TimeArg(r.UpdatedAt))
	if err != nil {
		return fmt.Errorf("upsert referral %s->%s: %w", r.ReferrerID, r.RefereeID, err)
	}

	var verified, created database.NullTime
	row := q.db.QueryRowContext(ctx, q.dialect.Rebind(`SELECT id, verified_at, created_at FROM referrals
		WHERE referrer_id = ? AND referee_id = ?`), r.ReferrerID, r.RefereeID)
	if err := row.Scan(&r.ID, &verified, &created); err != nil {
		return fmt.Errorf("read back referral %s->%s: %w", r.ReferrerID, r.RefereeID, err)
	}
	r.VerifiedAt = verified.Ptr()
	r.CreatedAt = created.Time
	return nil
}

func (q queries) upsertRanking(ctx context.Context, r *ranking.Ranking) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	insert := `INSERT INTO rankings (id, member_id, district_id, province_id, period_key, score, rank_position, is_candidate, computed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	var query string
	if q.dialect == database.MySQL {
		query = insert + ` ON DUPLICATE KEY UPDATE province_id = VALUES(province_id), score = VALUES(score),
			rank_position = VALUES(rank_position), is_candidate = VALUES(is_candidate), computed_at = VALUES(computed_at)`
	} else {
		query = insert + ` ON CONFLICT (member_id, district_id, period_key) DO UPDATE SET province_id = excluded.province_id,
			score = excluded.score, rank_position = excluded.rank_position,
			is_candidate = excluded.is_candidate, computed_at = excluded.computed_at`
	}

	_, err := q.exec(ctx, query, r.ID, r.MemberID, r.DistrictID, r.ProvinceID, r.Period, r.Score, r.Rank,
		r.IsCandidate, q.dialect.TimeArg(r.ComputedAt))
	if err != nil {
		return fmt.Errorf("upsert ranking %s/%s/%s: %w", r.MemberID, r.DistrictID, r.Period, err)
	}
	return nil
}

// listActiveReferrals runs one IN query per chunk of ids and merges the
// chunks back into created_at, id order.
func (q queries) listActiveReferrals(ctx context.Context, referrerIDs []string) ([]*member.Member, error) {
	ctx, cancel := context.WithTimeout(ctx, batchTimeout)
	defer cancel()

	var out []*member.Member
	for start := 0; start < len(referrerIDs); start += inChunk {
		end := min(start+inChunk, len(referrerIDs))
		chunk := referrerIDs[start:end]

		args := make([]any, 0, len(chunk)+1)
		args = append(args, string(member.StatusActive))
		for _, id := range chunk {
			args = append(args, id)
		}
		query := memberColumns + ` FROM members WHERE status = ? AND referred_by_id IN (` +
			placeholders(len(chunk)) + `) ORDER BY created_at, id`
		ms, err := q.listMembers(ctx, query, args...)
		if err != nil {
			return nil, err
		}
		out = append(out, ms...)
	}
	if len(referrerIDs) > inChunk {
		sortMembers(out)
	}
	return out, nil
}

func (q queries) listMembers(ctx context.Context, query string, args ...any) ([]*member.Member, error) {
	rows, err := q.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query members: %w", err)
	}
	defer rows.Close()

	var out []*member.Member
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (q queries) listRankings(ctx context.Context, query string, args ...any) ([]*ranking.Ranking, error) {
	rows, err := q.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query rankings: %w", err)
	}
	defer rows.Close()

	var out []*ranking.Ranking
	for rows.Next() {
		var (
			r        ranking.Ranking
			computed database.NullTime
		)
		if err := rows.Scan(&r.ID, &r.MemberID, &r.MemberName, &r.DistrictID, &r.ProvinceID,
			&r.Period, &r.Score, &r.Rank, &r.IsCandidate, &computed); err != nil {
			return nil, fmt.Errorf("scan ranking: %w", err)
		}
		r.ComputedAt = computed.Time
		out = append(out, &r)
	}
	return out, rows.Err()
}

func (q queries) listStrings(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := q.query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanMember(row scanner) (*member.Member, error) {
	var (
		m          member.Member
		referredBy sql.NullString
		rank       sql.NullInt64
		status     string
		lastActive database.NullTime
		created    database.NullTime
	)
	err := row.Scan(&m.ID, &m.FullName, &referredBy, &status, &m.Score, &rank,
		&m.DistrictID, &m.ProvinceID, &lastActive, &created)
	if err != nil {
		return nil, err
	}
	m.Status = member.Status(status)
	if referredBy.Valid {
		m.ReferredByID = &referredBy.String
	}
	if rank.Valid {
		r := int(rank.Int64)
		m.Rank = &r
	}
	m.LastActiveAt = lastActive.Ptr()
	m.CreatedAt = created.Time
	return &m, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
