package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"partyapp-referral-engine/internal/audit"
	"partyapp-referral-engine/internal/ranking"
	"partyapp-referral-engine/internal/utils"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Ranker runs a ranking pass over every district.
type Ranker interface {
	ComputeAllDistricts(ctx context.Context, period string) (*ranking.BatchSummary, error)
}

// HealthCheck pings one backing service.
type HealthCheck struct {
	Name string
	Ping func(ctx context.Context) error
}

// Specs are the cron expressions of the scheduled jobs.
type Specs struct {
	Rankings string
	Health   string
}

// Scheduler runs the periodic ranking pass and the health check.
type Scheduler struct {
	ranker Ranker
	checks []HealthCheck
	audit  audit.Recorder
	log    *zap.Logger
	specs  Specs

	cron *cron.Cron
	mu   sync.RWMutex
	jobs map[cron.EntryID]string

	stopOnce sync.Once
	done     chan struct{}
}

func NewScheduler(ranker Ranker, rec audit.Recorder, log *zap.Logger, specs Specs, checks ...HealthCheck) *Scheduler {
	return &Scheduler{
		ranker: ranker,
		checks: checks,
		audit:  audit.OrNop(rec),
		log:    log,
		specs:  specs,
		cron:   cron.New(cron.WithChain(cron.Recover(cronLogger{log.Sugar()}))),
		jobs:   make(map[cron.EntryID]string),
		done:   make(chan struct{}),
	}
}

// Start registers the jobs and runs the cron loop until ctx is cancelled or
// Stop is called.
func (s *Scheduler) Start(ctx context.Context) error {
	s.log.Info("🚀 Starting scheduler...")

	if err := s.register("District Rankings", s.specs.Rankings, s.rankDistricts); err != nil {
		return err
	}
	if err := s.register("System Health Check", s.specs.Health, s.healthCheck); err != nil {
		return err
	}

	s.cron.Start()
	go func() {
		select {
		case <-ctx.Done():
			s.Stop()
		case <-s.done:
		}
	}()

	s.log.Info("🎯 Scheduler started", zap.Int("jobs", len(s.cron.Entries())))
	return nil
}

func (s *Scheduler) register(name, schedule string, fn func()) error {
	if schedule == "" {
		s.log.Warn("⚠️ Job disabled, empty schedule", zap.String("job", name))
		return nil
	}
	id, err := s.cron.AddFunc(schedule, fn)
	if err != nil {
		return fmt.Errorf("register %s (%q): %w", name, schedule, err)
	}
	s.mu.Lock()
	s.jobs[id] = name
	s.mu.Unlock()
	s.log.Info("✅ Registered job", zap.String("job", name), zap.String("schedule", schedule))
	return nil
}

// rankDistricts ranks every district for the current period.
func (s *Scheduler) rankDistricts() {
	defer utils.Recover(s.log, "RankDistricts")
	start := time.Now()
	s.log.Info("🏆 [JOB] Starting district rankings...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()

	batch, err := s.ranker.ComputeAllDistricts(ctx, "")
	if err != nil {
		s.log.Error("❌ [JOB] District rankings failed", zap.Error(err))
		s.record(ctx, audit.ActionRankingFailed, err.Error())
		return
	}

	detail := fmt.Sprintf("period=%s ranked=%d failed=%d", batch.Period, len(batch.Districts), len(batch.Failed))
	s.record(ctx, audit.ActionRankingComputed, detail)
	s.log.Info("✅ [JOB] District rankings finished",
		zap.String("period", batch.Period),
		zap.Int("ranked", len(batch.Districts)),
		zap.Int("failed", len(batch.Failed)),
		zap.Duration("took", time.Since(start)))
}

func (s *Scheduler) healthCheck() {
	defer utils.Recover(s.log, "HealthCheck")
	s.log.Debug("❤️ [JOB] Starting system health check...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	results := s.CheckHealth(ctx)

	status := "healthy"
	for _, ok := range results {
		if !ok {
			status = "degraded"
			break
		}
	}
	s.record(ctx, audit.ActionHealthCheck, status)
	s.log.Info("📊 Health check completed", zap.String("status", status), zap.Any("services", results))
}

// CheckHealth pings every configured service concurrently.
func (s *Scheduler) CheckHealth(ctx context.Context) map[string]bool {
	results := make(map[string]bool, len(s.checks))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for _, check := range s.checks {
		g.Go(func() error {
			healthy := false
			defer func() {
				mu.Lock()
				results[check.Name] = healthy
				mu.Unlock()
			}()
			defer utils.Recover(s.log, "HealthCheck-"+check.Name)

			checkCtx, cancel := context.WithTimeout(gctx, 5*time.Second)
			defer cancel()
			err := check.Ping(checkCtx)
			healthy = err == nil

			if err != nil {
				s.log.Warn("❌ [HEALTH] unhealthy", zap.String("service", check.Name), zap.Error(err))
			} else {
				s.log.Debug("✅ [HEALTH] healthy", zap.String("service", check.Name))
			}
			// a failing service must not cancel the other pings
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// GetJobStatus returns each job with its next run time.
func (s *Scheduler) GetJobStatus() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	status := make(map[string]string)
	for _, entry := range s.cron.Entries() {
		if name := s.jobs[entry.ID]; name != "" {
			status[name] = "Next run: " + entry.Next.Format("2006-01-02 15:04:05")
		}
	}
	return status
}

// JobNames lists registered jobs, sorted.
func (s *Scheduler) JobNames() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.jobs))
	for _, n := range s.jobs {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Stop halts the cron loop and waits for running jobs. Safe to call twice.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		s.log.Info("🛑 Stopping scheduler...")
		<-s.cron.Stop().Done()
		close(s.done)
		s.log.Info("✅ Scheduler stopped")
	})
}

// Done is closed once Stop has finished.
func (s *Scheduler) Done() <-chan struct{} { return s.done }

func (s *Scheduler) record(ctx context.Context, action, detail string) {
	if err := s.audit.Record(ctx, "scheduler", action, detail); err != nil {
		s.log.Debug("audit record dropped", zap.String("action", action), zap.Error(err))
	}
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct{ s *zap.SugaredLogger }

func (l cronLogger) Info(msg string, kv ...any) { l.s.Debugw(msg, kv...) }

func (l cronLogger) Error(err error, msg string, kv ...any) {
	l.s.Errorw(msg, append(kv, "error", err)...)
}
