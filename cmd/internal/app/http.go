package app

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Alexmontesino96/Admin-Gym-Dashboard-sub001/cmd/internal/api"
)

func registerHTTP(
	mux *http.ServeMux,
	log Logger,
	cfg Config,
	sess *Session,
	h *api.Handler,
	reg *prometheus.Registry,
) {
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		pool := sess.Pool()
		if cfg.ReadinessRequireDB && pool == nil {
			http.Error(w, "db not configured", http.StatusServiceUnavailable)
			return
		}

		if pool != nil {
			if err := PingDB(r.Context(), pool, 2*time.Second); err != nil {
				http.Error(w, "db not ready", http.StatusServiceUnavailable)
				log.Info("readyz.db.not_ready", "err", err)
				return
			}
		}

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready\n"))
	})

	mux.Handle("/metrics", promhttp.HandlerFor(
		prometheus.Gatherers{prometheus.DefaultGatherer, reg},
		promhttp.HandlerOpts{},
	))

	h.Register(mux)
}
