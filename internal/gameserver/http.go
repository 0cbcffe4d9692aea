package gameserver

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// NewMux routes the API and the viewer websocket endpoint.
func NewMux(api *API, ws http.Handler) *http.ServeMux {
	mux := http.NewServeMux()
	api.Register(mux)
	mux.Handle("GET /ws", ws)
	return mux
}

// HTTPService serves a handler until stopped. It satisfies server.Service.
type HTTPService struct {
	srv    *http.Server
	logger *zap.Logger
}

// NewHTTPService creates an HTTPService listening on addr.
//
// Precondition: addr must be a valid "host:port" string.
func NewHTTPService(addr string, handler http.Handler, readTimeout time.Duration, logger *zap.Logger) *HTTPService {
	return &HTTPService{
		srv: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: readTimeout,
		},
		logger: logger,
	}
}

// Start binds and serves until Stop is called.
//
// Postcondition: Returns nil after a graceful Stop, or the listen error.
func (s *HTTPService) Start() error {
	lis, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return err
	}
	s.logger.Info("http listening", zap.String("addr", lis.Addr().String()))
	if err := s.srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop shuts the server down, waiting up to five seconds for open requests.
// Hijacked websocket connections are closed by the Hub, not here.
func (s *HTTPService) Stop() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.srv.Shutdown(ctx); err != nil {
		s.logger.Warn("http shutdown", zap.Error(err))
	}
}
