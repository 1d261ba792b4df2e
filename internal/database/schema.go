package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

var mysqlSchema = []string{
	`CREATE TABLE IF NOT EXISTS members (
		id VARCHAR(36) PRIMARY KEY,
		full_name VARCHAR(255) NOT NULL DEFAULT '',
		referred_by_id VARCHAR(36) NULL,
		status VARCHAR(16) NOT NULL DEFAULT 'PENDING',
		score INT NOT NULL DEFAULT 0,
		rank_position INT NULL,
		district_id VARCHAR(64) NOT NULL DEFAULT '',
		province_id VARCHAR(64) NOT NULL DEFAULT '',
		last_active_at DATETIME(6) NULL,
		created_at DATETIME(6) NOT NULL,
		INDEX idx_members_referred_by (referred_by_id, status),
		INDEX idx_members_district (district_id, status),
		INDEX idx_members_score (status, score)
	)`,
	`CREATE TABLE IF NOT EXISTS referrals (
		id VARCHAR(36) PRIMARY KEY,
		referrer_id VARCHAR(36) NOT NULL,
		referee_id VARCHAR(36) NOT NULL,
		level TINYINT NOT NULL,
		points INT NOT NULL,
		status VARCHAR(16) NOT NULL,
		verified_at DATETIME(6) NULL,
		created_at DATETIME(6) NOT NULL,
		updated_at DATETIME(6) NOT NULL,
		UNIQUE KEY uq_referrals_pair (referrer_id, referee_id),
		INDEX idx_referrals_referee (referee_id)
	)`,
	`CREATE TABLE IF NOT EXISTS rankings (
		id VARCHAR(36) PRIMARY KEY,
		member_id VARCHAR(36) NOT NULL,
		district_id VARCHAR(64) NOT NULL,
		province_id VARCHAR(64) NOT NULL DEFAULT '',
		period_key CHAR(7) NOT NULL,
		score INT NOT NULL,
		rank_position INT NOT NULL,
		is_candidate BOOLEAN NOT NULL DEFAULT FALSE,
		computed_at DATETIME(6) NOT NULL,
		UNIQUE KEY uq_rankings_member_period (member_id, district_id, period_key),
		INDEX idx_rankings_partition (district_id, period_key, rank_position),
		INDEX idx_rankings_candidates (period_key, is_candidate)
	)`,
}

// portableSchema serves Postgres and SQLite; {{timestamp}} is the
// dialect timestamp type.
var portableSchema = []string{
	`CREATE TABLE IF NOT EXISTS members (
		id VARCHAR(36) PRIMARY KEY,
		full_name VARCHAR(255) NOT NULL DEFAULT '',
		referred_by_id VARCHAR(36) NULL,
		status VARCHAR(16) NOT NULL DEFAULT 'PENDING',
		score INTEGER NOT NULL DEFAULT 0,
		rank_position INTEGER NULL,
		district_id VARCHAR(64) NOT NULL DEFAULT '',
		province_id VARCHAR(64) NOT NULL DEFAULT '',
		last_active_at {{timestamp}} NULL,
		created_at {{timestamp}} NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_members_referred_by ON members (referred_by_id, status)`,
	`CREATE INDEX IF NOT EXISTS idx_members_district ON members (district_id, status)`,
	`CREATE INDEX IF NOT EXISTS idx_members_score ON members (status, score)`,
	`CREATE TABLE IF NOT EXISTS referrals (
		id VARCHAR(36) PRIMARY KEY,
		referrer_id VARCHAR(36) NOT NULL,
		referee_id VARCHAR(36) NOT NULL,
		level SMALLINT NOT NULL,
		points INTEGER NOT NULL,
		status VARCHAR(16) NOT NULL,
		verified_at {{timestamp}} NULL,
		created_at {{timestamp}} NOT NULL,
		updated_at {{timestamp}} NOT NULL,
		UNIQUE (referrer_id, referee_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_referrals_referee ON referrals (referee_id)`,
	`CREATE TABLE IF NOT EXISTS rankings (
		id VARCHAR(36) PRIMARY KEY,
		member_id VARCHAR(36) NOT NULL,
		district_id VARCHAR(64) NOT NULL,
		province_id VARCHAR(64) NOT NULL DEFAULT '',
		period_key CHAR(7) NOT NULL,
		score INTEGER NOT NULL,
		rank_position INTEGER NOT NULL,
		is_candidate BOOLEAN NOT NULL DEFAULT FALSE,
		computed_at {{timestamp}} NOT NULL,
		UNIQUE (member_id, district_id, period_key)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_rankings_partition ON rankings (district_id, period_key, rank_position)`,
	`CREATE INDEX IF NOT EXISTS idx_rankings_candidates ON rankings (period_key, is_candidate)`,
}

// CreateTables creates the members, referrals and rankings tables when they
// do not exist yet.
func CreateTables(ctx context.Context, db *sql.DB, dialect Dialect, log *zap.Logger) error {
	var stmts []string
	switch dialect {
	case MySQL:
		stmts = mysqlSchema
	case Postgres:
		stmts = format(portableSchema, "TIMESTAMPTZ")
	case SQLite:
		stmts = format(portableSchema, "DATETIME")
	default:
		return fmt.Errorf("unsupported dialect %q", dialect)
	}

	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
	}
	log.Info("✅ Schema ready", zap.String("dialect", string(dialect)))
	return nil
}

func format(stmts []string, timeType string) []string {
	out := make([]string, len(stmts))
	for i, s := range stmts {
		out[i] = strings.ReplaceAll(s, "{{timestamp}}", timeType)
	}
	return out
}
