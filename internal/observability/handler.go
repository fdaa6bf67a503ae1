package observability

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Handler exposes the default registry.
func Handler() http.Handler {
	RegisterMetrics()
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

// ServeMetrics serves Handler on addr in the background. The returned
// server is shut down by the caller.
func ServeMetrics(addr string) *http.Server {
	srv := &http.Server{
		Addr:              addr,
		Handler:           Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Msgf("observability.ServeMetrics addr=%s err=%v", addr, err)
		}
	}()
	log.Info().Msgf("observability.ServeMetrics addr=%s path=/metrics", addr)
	return srv
}
