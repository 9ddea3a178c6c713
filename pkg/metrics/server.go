package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

const indexPage = `<html><body><h1>Extract721 Metrics</h1>
<p><a href="/metrics">/metrics</a>: alignment outcomes, chunk counts, provider latency and token usage</p>
</body></html>`

// StartServer serves the Prometheus registry on its own port, apart from the
// extraction API, and returns the server's Shutdown. cmd/annotator and
// cmd/worker call it when metrics are enabled.
func StartServer(port int) (shutdown func(context.Context) error) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, indexPage)
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	logger := slog.Default().With("component", "metrics")
	go func() {
		logger.Info("metrics server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server stopped", "error", err)
		}
	}()

	return server.Shutdown
}
