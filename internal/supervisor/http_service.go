// Timeharbor - Offline-First Time Tracking and Sync
// Copyright 2026 Dharp02
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Dharp02/timeharbor

package supervisor

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/Dharp02/timeharbor/internal/logging"
)

// HTTPService runs an http.Server under supervision, shutting it down
// gracefully when the supervisor stops.
type HTTPService struct {
	server *http.Server
}

// NewHTTPService wraps srv.
func NewHTTPService(srv *http.Server) *HTTPService {
	return &HTTPService{server: srv}
}

// Serve satisfies suture.Service.
func (s *HTTPService) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		logging.Info().Str("addr", s.server.Addr).Msg("HTTP server listening")
		errCh <- s.server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err

	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutCtx); err != nil {
			logging.Warn().Err(err).Msg("HTTP shutdown incomplete, forcing close")
			_ = s.server.Close()
		}
		<-errCh
		return ctx.Err()
	}
}

func (s *HTTPService) String() string {
	return "http-server"
}
