package observability

import (
	"net"
	"net/http"
	"net/http/pprof"
	"os"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"snowfight/internal/config"
)

const defaultDebugAddr = "127.0.0.1:6060"

// DebugHandler serves pprof, /metrics and /health.
func DebugHandler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	mux.Handle("/metrics", promhttp.Handler())

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	return mux
}

// StartDebugServer starts the internal observability server in the background.
// It binds to loopback unless ALLOW_DEBUG_EXTERNAL=true.
func StartDebugServer(cfg config.ObservabilityConfig, log *zap.SugaredLogger) {
	if !cfg.Enabled {
		log.Info("📊 Debug server disabled")
		return
	}

	addr := cfg.ListenAddr
	if !isLoopback(addr) && os.Getenv("ALLOW_DEBUG_EXTERNAL") != "true" {
		log.Warnw("⚠️ Debug server forced to localhost", "requested", addr)
		addr = defaultDebugAddr
	}

	go func() {
		log.Infow("📊 Debug server starting", "addr", addr,
			"pprof", "http://"+addr+"/debug/pprof/", "metrics", "http://"+addr+"/metrics")
		if err := http.ListenAndServe(addr, DebugHandler()); err != nil {
			log.Warnw("⚠️ Debug server error", "error", err)
		}
	}()
}

func isLoopback(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
