package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// httpServer serves health, metrics, and the websocket gateway from one
// listener.
type httpServer struct {
	server *http.Server
	logger *slog.Logger
}

func newHTTPServer(r *Runtime) *httpServer {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"status":    "ok",
			"providers": r.Providers.Names(),
			"agents":    r.Agents.List(),
			"tasks":     r.Store.CountByStatus(),
		})
	})

	mux.Handle("/metrics", promhttp.HandlerFor(r.Prom, promhttp.HandlerOpts{}))

	if r.wsServer != nil {
		mux.Handle(r.wsServer.Path(), r.wsServer.Handler())
	}

	return &httpServer{
		server: &http.Server{
			Addr:              r.Config.Server.Addr(),
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		},
		logger: r.Logger,
	}
}

// run serves until ctx is cancelled, then drains with a short grace
// period.
func (h *httpServer) run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- h.server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := h.server.Shutdown(shutdownCtx); err != nil {
			h.logger.Warn("http shutdown incomplete", "error", err)
			h.server.Close()
		}
		return nil
	}
}
