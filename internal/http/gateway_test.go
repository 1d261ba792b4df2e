package http_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"partyapp-referral-engine/internal/engine"
	gateway "partyapp-referral-engine/internal/http"
	"partyapp-referral-engine/internal/ranking"
	"partyapp-referral-engine/internal/referral"
	"partyapp-referral-engine/internal/store"
	"partyapp-referral-engine/internal/testutil"
	"partyapp-referral-engine/internal/utils"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const secret = "test-secret"

type fakeHealth map[string]bool

func (f fakeHealth) CheckHealth(context.Context) map[string]bool { return f }

type fakeScheduler struct{ fakeHealth }

func (fakeScheduler) GetJobStatus() map[string]string {
	return map[string]string{"District Rankings": "Next run: 2025-03-16 02:00:00"}
}

// setup builds A -> B -> C -> D and a router over it.
func setup(t *testing.T, adminSecret string, health gateway.HealthChecker) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	repo := store.NewMemoryStore()
	testutil.NewGraph(t, repo).Chain("A", "B", "C", "D")
	c := engine.Build(engine.Deps{Repo: repo, Now: testutil.Clock})

	r := gin.New()
	gateway.NewGateway(c.Service, health, adminSecret, nil).SetupRoutes(r)
	return r
}

func do(t *testing.T, r http.Handler, method, path string, body any, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func TestProcessReferral_Created(t *testing.T) {
	r := setup(t, "", nil)

	w := do(t, r, http.MethodPost, "/api/v1/referrals", gin.H{"referrer_id": "C", "referee_id": "D"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	res := decode[referral.Result](t, w)
	assert.Len(t, res.Ledger, 3)
	assert.Equal(t, []referral.AncestorScore{
		{MemberID: "C", Level: 1, Score: 10},
		{MemberID: "B", Level: 2, Score: 15},
		{MemberID: "A", Level: 3, Score: 17},
	}, res.Scores)
}

func TestProcessReferral_ErrorMapping(t *testing.T) {
	r := setup(t, "", nil)

	tests := []struct {
		name string
		body any
		want int
	}{
		{"cycle", gin.H{"referrer_id": "C", "referee_id": "A"}, http.StatusConflict},
		{"self", gin.H{"referrer_id": "B", "referee_id": "B"}, http.StatusConflict},
		{"unknown referrer", gin.H{"referrer_id": "ZZ", "referee_id": "D"}, http.StatusNotFound},
		{"missing field", gin.H{"referrer_id": "A"}, http.StatusBadRequest},
		{"not json", "nope", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, r, http.MethodPost, "/api/v1/referrals", tt.body)
			assert.Equal(t, tt.want, w.Code, w.Body.String())
			assert.Contains(t, decode[map[string]any](t, w), "error")
		})
	}
}

func TestCheckCycle(t *testing.T) {
	r := setup(t, "", nil)

	w := do(t, r, http.MethodPost, "/api/v1/referrals/check-cycle", gin.H{"referrer_id": "D", "referee_id": "A"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, map[string]bool{"circular": true}, decode[map[string]bool](t, w))

	w = do(t, r, http.MethodPost, "/api/v1/referrals/check-cycle", gin.H{"referrer_id": "A", "referee_id": "NEW"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, map[string]bool{"circular": false}, decode[map[string]bool](t, w))
}

func TestGetScore(t *testing.T) {
	r := setup(t, "", nil)

	w := do(t, r, http.MethodGet, "/api/v1/members/A/score", nil)
	require.Equal(t, http.StatusOK, w.Code)
	b := decode[referral.Breakdown](t, w)
	assert.Equal(t, referral.Breakdown{
		MemberID: "A", DirectCount: 1, Level2Count: 1, Level3Count: 1,
		DirectPoints: 10, Level2Points: 5, Level3Points: 2, TotalScore: 17,
	}, b)

	w = do(t, r, http.MethodGet, "/api/v1/members/nobody/score", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAdminRoutes_RequireToken(t *testing.T) {
	r := setup(t, secret, nil)

	w := do(t, r, http.MethodPost, "/api/v1/admin/rankings", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = do(t, r, http.MethodPost, "/api/v1/admin/rankings", nil, "Authorization", "Bearer garbage")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	token, err := utils.GenerateAdminToken("ops", secret, time.Hour)
	require.NoError(t, err)
	w = do(t, r, http.MethodPost, "/api/v1/admin/rankings?period=2025-03", nil, "Authorization", "Bearer "+token)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	batch := decode[ranking.BatchSummary](t, w)
	require.Len(t, batch.Districts, 1)
	assert.Equal(t, "A", batch.Districts[0].CandidateID)
	assert.Equal(t, 4, batch.Districts[0].Ranked)
}

func TestAdminRoutes_OpenWithoutSecret(t *testing.T) {
	r := setup(t, "", nil)

	w := do(t, r, http.MethodPost, "/api/v1/admin/rankings/districts/D1", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	sum := decode[ranking.Summary](t, w)
	assert.Equal(t, "2025-03", sum.Period)

	w = do(t, r, http.MethodPost, "/api/v1/admin/rankings/districts/D1?period=March", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, r, http.MethodPost, "/api/v1/admin/backfill", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
}

func TestLeaderboards(t *testing.T) {
	r := setup(t, "", nil)
	require.Equal(t, http.StatusOK, do(t, r, http.MethodPost, "/api/v1/admin/rankings", nil).Code)

	w := do(t, r, http.MethodGet, "/api/v1/leaderboards/districts/D1?limit=2", nil)
	require.Equal(t, http.StatusOK, w.Code)
	district := decode[struct {
		Rankings []ranking.Ranking `json:"rankings"`
		Count    int               `json:"count"`
	}](t, w)
	require.Equal(t, 2, district.Count)
	assert.Equal(t, "A", district.Rankings[0].MemberID)
	assert.Equal(t, 1, district.Rankings[0].Rank)
	assert.Equal(t, "B", district.Rankings[1].MemberID)

	w = do(t, r, http.MethodGet, "/api/v1/leaderboards/national", nil)
	require.Equal(t, http.StatusOK, w.Code)
	national := decode[struct {
		Members []ranking.NationalEntry `json:"members"`
	}](t, w)
	require.Len(t, national.Members, 4)
	assert.Equal(t, 17, national.Members[0].Score)

	w = do(t, r, http.MethodGet, "/api/v1/leaderboards/candidates?province=P1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	cands := decode[struct {
		Candidates []ranking.Ranking `json:"candidates"`
	}](t, w)
	require.Len(t, cands.Candidates, 1)
	assert.True(t, cands.Candidates[0].IsCandidate)

	assert.Equal(t, http.StatusBadRequest, do(t, r, http.MethodGet, "/api/v1/leaderboards/national?limit=ten", nil).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, r, http.MethodGet, "/api/v1/leaderboards/districts/D1?period=2025-13", nil).Code)
}

func TestHealth(t *testing.T) {
	w := do(t, setup(t, "", nil), http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(t, setup(t, "", fakeHealth{"sql": true, "redis": false}), http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "degraded", decode[map[string]any](t, w)["status"])

	w = do(t, setup(t, "", fakeScheduler{fakeHealth{"sql": true}}), http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	body := decode[struct {
		Jobs map[string]string `json:"jobs"`
	}](t, w)
	assert.Contains(t, body.Jobs, "District Rankings")
}

func TestMetricsEndpoint(t *testing.T) {
	r := setup(t, "", nil)
	do(t, r, http.MethodGet, "/health", nil)

	w := do(t, r, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "http_requests_total")
}
