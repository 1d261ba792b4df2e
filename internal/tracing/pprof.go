package tracing

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/pprof"
	"runtime"
	"time"

	"go.uber.org/zap"
)

// Profiler serves net/http/pprof and a few runtime snapshots on a private
// port.
type Profiler struct {
	server *http.Server
	log    *zap.Logger
}

func NewProfiler(port string, log *zap.Logger) *Profiler {
	mux := http.NewServeMux()
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	mux.HandleFunc("/debug/runtime", runtimeHandler)

	return &Profiler{
		server: &http.Server{
			Addr:         ":" + port,
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 60 * time.Second,
		},
		log: log,
	}
}

// Handler exposes the mux, mainly for tests.
func (p *Profiler) Handler() http.Handler { return p.server.Handler }

// Start serves in the background.
func (p *Profiler) Start() {
	go func() {
		p.log.Info("📊 PProf server started", zap.String("addr", p.server.Addr))
		if err := p.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			p.log.Error("❌ PProf server error", zap.Error(err))
		}
	}()
}

func (p *Profiler) Stop() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.server.Shutdown(ctx); err != nil {
		p.log.Error("❌ PProf shutdown error", zap.Error(err))
		return
	}
	p.log.Info("✅ PProf server stopped")
}

// RuntimeStats is a point-in-time view of the Go runtime.
type RuntimeStats struct {
	Timestamp  string `json:"timestamp"`
	Goroutines int    `json:"goroutines"`
	AllocBytes uint64 `json:"alloc_bytes"`
	TotalAlloc uint64 `json:"total_alloc_bytes"`
	SysBytes   uint64 `json:"sys_bytes"`
	NumGC      uint32 `json:"num_gc"`
	NumCPU     int    `json:"num_cpu"`
}

func ReadRuntimeStats() RuntimeStats {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return RuntimeStats{
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
		Goroutines: runtime.NumGoroutine(),
		AllocBytes: m.Alloc,
		TotalAlloc: m.TotalAlloc,
		SysBytes:   m.Sys,
		NumGC:      m.NumGC,
		NumCPU:     runtime.NumCPU(),
	}
}

func runtimeHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(ReadRuntimeStats())
}

// StartMemoryMonitor warns whenever heap allocation exceeds thresholdMB,
// checking every interval until ctx is done.
func StartMemoryMonitor(ctx context.Context, log *zap.Logger, interval time.Duration, thresholdMB uint64) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if s := ReadRuntimeStats(); s.AllocBytes > thresholdMB<<20 {
					log.Warn("⚠️ High memory usage",
						zap.Float64("alloc_mb", float64(s.AllocBytes)/(1<<20)),
						zap.Uint64("threshold_mb", thresholdMB),
						zap.Int("goroutines", s.Goroutines))
				}
			case <-ctx.Done():
				log.Info("✅ Memory monitor stopped")
				return
			}
		}
	}()
}
