// Package standin provides minimal HTTP substitutes for the two real
// inference backends. They implement only the contract surface the
// backend depends on: a health endpoint and one domain endpoint each,
// answering with deterministic synthetic payloads after a short
// artificial latency.
package standin

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

func init() {
	gin.SetMode(gin.ReleaseMode)
}

// healthPayload is the shape both stand-ins report on /health.
func healthPayload(startedAt time.Time, models map[string]bool) gin.H {
	return gin.H{
		"status":        "healthy",
		"models_loaded": models,
		"uptime":        time.Since(startedAt).Seconds(),
	}
}

// serve runs an HTTP server for the handler until ctx is cancelled.
func serve(ctx context.Context, addr string, handler http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
		<-errCh
		return nil
	case err := <-errCh:
		return err
	}
}
