package http

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"partyapp-referral-engine/internal/engine"
	"partyapp-referral-engine/internal/monitoring"
	"partyapp-referral-engine/internal/utils"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const (
	requestTimeout = 5 * time.Second
	adminTimeout   = 10 * time.Minute
)

// HealthChecker reports per-dependency health, keyed by dependency name.
type HealthChecker interface {
	CheckHealth(ctx context.Context) map[string]bool
}

// jobReporter is implemented by health checkers that also run scheduled jobs.
type jobReporter interface {
	GetJobStatus() map[string]string
}

// Gateway is the REST surface of the engine.
type Gateway struct {
	engine      engine.API
	health      HealthChecker
	adminSecret string
	log         *zap.Logger
}

// NewGateway builds the gateway. An empty adminSecret leaves the admin routes
// unauthenticated; health may be nil.
func NewGateway(api engine.API, health HealthChecker, adminSecret string, log *zap.Logger) *Gateway {
	if log == nil {
		log = zap.NewNop()
	}
	return &Gateway{engine: api, health: health, adminSecret: adminSecret, log: log}
}

// SetupRoutes registers every route on r.
func (g *Gateway) SetupRoutes(r *gin.Engine) {
	r.Use(g.MetricsMiddleware())

	r.GET("/health", g.healthCheck)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api/v1")

	referrals := api.Group("/referrals")
	{
		referrals.POST("", g.processReferral)
		referrals.POST("/check-cycle", g.checkCycle)
	}

	api.GET("/members/:id/score", g.getScore)

	boards := api.Group("/leaderboards")
	{
		boards.GET("/districts/:districtId", g.districtLeaderboard)
		boards.GET("/national", g.nationalLeaderboard)
		boards.GET("/candidates", g.candidates)
	}

	admin := api.Group("/admin")
	admin.Use(g.AdminMiddleware())
	{
		admin.POST("/rankings/districts/:districtId", g.computeDistrict)
		admin.POST("/rankings", g.computeAll)
		admin.POST("/backfill", g.backfill)
	}
}

// ====== Middleware ======

// MetricsMiddleware counts requests and observes latency per route template.
func (g *Gateway) MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		took := time.Since(start)
		status := c.Writer.Status()
		monitoring.HttpRequestsTotal.WithLabelValues(c.Request.Method, path, strconv.Itoa(status)).Inc()
		monitoring.ResponseTimeHistogram.WithLabelValues(c.Request.Method, path).Observe(took.Seconds())
		g.log.Debug("http request",
			zap.String("method", c.Request.Method), zap.String("path", path),
			zap.Int("status", status), zap.Duration("took", took))
	}
}

// AdminMiddleware requires a bearer token with the admin role.
func (g *Gateway) AdminMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if g.adminSecret == "" {
			c.Next()
			return
		}
		token, ok := utils.BearerToken(c.GetHeader("Authorization"))
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		claims, err := utils.VerifyAdminToken(token, g.adminSecret)
		if err != nil {
			g.log.Warn("⚠️ Admin token rejected", zap.String("path", c.FullPath()), zap.Error(err))
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		c.Set("admin_subject", claims.Subject)
		c.Next()
	}
}

// ====== HANDLERS ======

// healthCheck - dependency status plus scheduled job state when available.
func (g *Gateway) healthCheck(c *gin.Context) {
	body := gin.H{
		"status":    "healthy",
		"service":   "referral-engine",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	code := http.StatusOK
	if g.health != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
		defer cancel()
		checks := g.health.CheckHealth(ctx)
		for _, ok := range checks {
			if !ok {
				body["status"] = "degraded"
				code = http.StatusServiceUnavailable
			}
		}
		body["checks"] = checks
		if jr, ok := g.health.(jobReporter); ok {
			body["jobs"] = jr.GetJobStatus()
		}
	}
	c.JSON(code, body)
}

// 🔹 REFERRALS

type referralRequest struct {
	ReferrerID string `json:"referrer_id" binding:"required"`
	RefereeID  string `json:"referee_id" binding:"required"`
}

func (g *Gateway) processReferral(c *gin.Context) {
	defer utils.Recover(g.log, "ProcessReferralHandler")

	var req referralRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()

	res, err := g.engine.ProcessReferral(ctx, req.ReferrerID, req.RefereeID)
	if err != nil {
		if res != nil {
			// Ledger or score persistence failed after partial progress.
			c.JSON(statusOf(err), gin.H{"error": err.Error(), "result": res})
			return
		}
		g.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, res)
}

func (g *Gateway) checkCycle(c *gin.Context) {
	defer utils.Recover(g.log, "CheckCycleHandler")

	var req referralRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()

	circular, err := g.engine.CheckCycle(ctx, req.ReferrerID, req.RefereeID)
	if err != nil {
		g.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"circular": circular})
}

func (g *Gateway) getScore(c *gin.Context) {
	defer utils.Recover(g.log, "GetScoreHandler")

	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()

	b, err := g.engine.GetScore(ctx, c.Param("id"))
	if err != nil {
		g.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, b)
}

// 🔹 LEADERBOARDS

func (g *Gateway) districtLeaderboard(c *gin.Context) {
	defer utils.Recover(g.log, "DistrictLeaderboardHandler")

	limit, ok := queryInt(c, "limit")
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()

	rows, err := g.engine.DistrictLeaderboard(ctx, c.Param("districtId"), limit, c.Query("period"))
	if err != nil {
		g.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"rankings": rows, "count": len(rows)})
}

func (g *Gateway) nationalLeaderboard(c *gin.Context) {
	defer utils.Recover(g.log, "NationalLeaderboardHandler")

	limit, ok := queryInt(c, "limit")
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()

	rows, err := g.engine.NationalLeaderboard(ctx, limit)
	if err != nil {
		g.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"members": rows, "count": len(rows)})
}

func (g *Gateway) candidates(c *gin.Context) {
	defer utils.Recover(g.log, "CandidatesHandler")

	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()

	rows, err := g.engine.Candidates(ctx, c.Query("province"), c.Query("period"))
	if err != nil {
		g.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"candidates": rows, "count": len(rows)})
}

// 🔹 ADMIN

func (g *Gateway) computeDistrict(c *gin.Context) {
	defer utils.Recover(g.log, "ComputeDistrictHandler")

	ctx, cancel := context.WithTimeout(c.Request.Context(), adminTimeout)
	defer cancel()

	sum, err := g.engine.ComputeDistrictRankings(ctx, c.Param("districtId"), c.Query("period"))
	if err != nil {
		g.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, sum)
}

func (g *Gateway) computeAll(c *gin.Context) {
	defer utils.Recover(g.log, "ComputeAllHandler")

	ctx, cancel := context.WithTimeout(c.Request.Context(), adminTimeout)
	defer cancel()

	batch, err := g.engine.ComputeAllDistricts(ctx, c.Query("period"))
	if err != nil {
		g.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, batch)
}

func (g *Gateway) backfill(c *gin.Context) {
	defer utils.Recover(g.log, "BackfillHandler")

	ctx, cancel := context.WithTimeout(c.Request.Context(), adminTimeout)
	defer cancel()

	g.log.Info("🔁 Backfill requested", zap.String("by", c.GetString("admin_subject")))
	rep, err := g.engine.Backfill(ctx)
	if err != nil {
		g.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, rep)
}

// ====== Helpers ======

func (g *Gateway) fail(c *gin.Context, err error) {
	code := statusOf(err)
	if code >= http.StatusInternalServerError {
		g.log.Error("❌ Request failed", zap.String("path", c.FullPath()), zap.Error(err))
	}
	c.JSON(code, gin.H{"error": err.Error()})
}

func statusOf(err error) int {
	switch engine.Classify(err) {
	case engine.KindInvalid:
		return http.StatusBadRequest
	case engine.KindNotFound:
		return http.StatusNotFound
	case engine.KindConflict:
		return http.StatusConflict
	case engine.KindUnavailable:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// queryInt parses an optional integer query parameter, writing a 400 and
// returning false when it is malformed.
func queryInt(c *gin.Context, name string) (int, bool) {
	raw := c.Query(name)
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name + ": " + raw})
		return 0, false
	}
	return n, true
}
