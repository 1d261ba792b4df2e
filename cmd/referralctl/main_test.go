package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"partyapp-referral-engine/internal/backfill"
	"partyapp-referral-engine/internal/ranking"
	"partyapp-referral-engine/internal/referral"
	"partyapp-referral-engine/internal/testutil"
	"partyapp-referral-engine/internal/utils"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

const seedYAML = `members:
  - id: A
    full_name: Alice
    district_id: D1
    province_id: P1
  - id: B
    full_name: Bao
    referred_by_id: A
    district_id: D1
    province_id: P1
  - id: C
    full_name: Chi
    referred_by_id: B
    district_id: D1
    province_id: P1
  - id: D
    full_name: Dung
    referred_by_id: C
    district_id: D2
    province_id: P1
`

func sqliteEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("APP_ENV", "docker")
	t.Setenv("DB_DRIVER", "sqlite")
	t.Setenv("SQLITE_PATH", filepath.Join(dir, "engine.db"))
	t.Setenv("REDIS_ENABLED", "false")
	t.Setenv("SCYLLA_ENABLED", "false")
	t.Setenv("ADMIN_JWT_SECRET", "cli-secret")

	seed := filepath.Join(dir, "members.yaml")
	require.NoError(t, os.WriteFile(seed, []byte(seedYAML), 0o600))
	return seed
}

func runCLI(t *testing.T, args ...string) []byte {
	t.Helper()
	var out bytes.Buffer
	require.NoError(t, run(context.Background(), args, &out), "referralctl %v", args)
	return out.Bytes()
}

func TestCLI_EndToEnd(t *testing.T) {
	seed := sqliteEnv(t)

	runCLI(t, "migrate")

	var seeded map[string]int
	require.NoError(t, json.Unmarshal(runCLI(t, "seed", "--file", seed), &seeded))
	assert.Equal(t, 4, seeded["members"])

	var res referral.Result
	require.NoError(t, json.Unmarshal(runCLI(t, "process", "C", "D"), &res))
	assert.Len(t, res.Ledger, 3)
	assert.Equal(t, "A", res.Scores[2].MemberID)
	assert.Equal(t, 17, res.Scores[2].Score)

	var b referral.Breakdown
	require.NoError(t, json.Unmarshal(runCLI(t, "score", "B"), &b))
	assert.Equal(t, 15, b.TotalScore)

	var cycle map[string]bool
	require.NoError(t, json.Unmarshal(runCLI(t, "check-cycle", "D", "A"), &cycle))
	assert.True(t, cycle["circular"])

	var batch ranking.BatchSummary
	require.NoError(t, json.Unmarshal(runCLI(t, "rank", "--all", "--period", "2025-03"), &batch))
	assert.Len(t, batch.Districts, 2)
	assert.Empty(t, batch.Failed)

	var rows []ranking.Ranking
	require.NoError(t, json.Unmarshal(runCLI(t, "leaderboard", "district", "D1", "--period", "2025-03"), &rows))
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"A", "B", "C"}, []string{rows[0].MemberID, rows[1].MemberID, rows[2].MemberID})
	assert.Equal(t, "Alice", rows[0].MemberName)

	var rep backfill.Report
	require.NoError(t, yaml.Unmarshal(runCLI(t, "backfill", "-o", "yaml"), &rep))
	assert.Equal(t, 4, rep.MembersScanned)
	assert.Equal(t, 0, rep.LedgerFailed)
}

func TestCLI_Token(t *testing.T) {
	sqliteEnv(t)

	var out map[string]string
	require.NoError(t, json.Unmarshal(runCLI(t, "token", "--subject", "ops"), &out))
	claims, err := utils.VerifyAdminToken(out["token"], "cli-secret")
	require.NoError(t, err)
	assert.Equal(t, "ops", claims.Subject)
}

func TestCLI_Errors(t *testing.T) {
	sqliteEnv(t)
	ctx := context.Background()

	assert.Error(t, run(ctx, []string{"rank"}, &bytes.Buffer{}))
	assert.Error(t, run(ctx, []string{"rank", "D1", "--all"}, &bytes.Buffer{}))
	assert.Error(t, run(ctx, []string{"score", "A", "-o", "xml"}, &bytes.Buffer{}))
	assert.Error(t, run(ctx, []string{"activity", "A"}, &bytes.Buffer{}))
	assert.Error(t, run(ctx, []string{"migrate", "--grpc-addr", "localhost:1"}, &bytes.Buffer{}))
}

func TestLoadSeed_Defaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seed.yaml")
	require.NoError(t, os.WriteFile(path, []byte("members:\n  - id: X\n  - id: Y\n    referred_by_id: X\n"), 0o600))

	ms, err := loadSeed(path, testutil.Now)
	require.NoError(t, err)
	require.Len(t, ms, 2)
	assert.Equal(t, "ACTIVE", string(ms[0].Status))
	assert.True(t, ms[0].CreatedAt.Before(ms[1].CreatedAt))
	assert.Equal(t, "X", ms[1].ReferrerID())

	require.NoError(t, os.WriteFile(path, []byte("members:\n  - id: X\n  - id: X\n"), 0o600))
	_, err = loadSeed(path, testutil.Now)
	assert.ErrorContains(t, err, "duplicate")

	require.NoError(t, os.WriteFile(path, []byte("members:\n  - id: X\n    status: GONE\n"), 0o600))
	_, err = loadSeed(path, testutil.Now)
	assert.ErrorContains(t, err, "unknown status")
}
