package common

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/oasisprotocol/datapool/log"
)

func CloseOrLog(c io.Closer, logger *log.Logger) {
	if err := c.Close(); err != nil {
		logger.Warn("error closing", "closer", c, "err", err)
	}
}

// RunServer serves until ctx is done, then shuts the server down gracefully.
func RunServer(ctx context.Context, server *http.Server, logger *log.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting http server", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	logger.Info("shutting down http server", "addr", server.Addr)
	return server.Shutdown(shutdownCtx)
}

type ContextKey string

const (
	// RequestIDContextKey carries the id of the status API request being served.
	RequestIDContextKey ContextKey = "request_id"
)
