package milter

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/d--j/go-milter"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/zpam/mailclass/pkg/config"
	"github.com/zpam/mailclass/pkg/learning"
)

// Server represents the mailclass milter server
type Server struct {
	config     *config.MilterConfig
	classifier learning.Classifier
	milterSrv  *milter.Server
	logger     zerolog.Logger
}

// NewServer creates a new milter server classifying with classifier
func NewServer(cfg *config.MilterConfig, classifier learning.Classifier) (*Server, error) {
	if classifier == nil {
		return nil, fmt.Errorf("milter needs a classifier")
	}

	logger := log.Logger.With().Str("component", "milter").Logger()

	var milterOpts []milter.Option

	// Configure protocol options (what events to skip)
	var skipProtocols milter.OptProtocol
	if cfg.SkipConnect {
		skipProtocols |= milter.OptNoConnect
	}
	if cfg.SkipHelo {
		skipProtocols |= milter.OptNoHelo
	}
	if cfg.SkipMail {
		skipProtocols |= milter.OptNoMailFrom
	}
	if cfg.SkipRcpt {
		skipProtocols |= milter.OptNoRcptTo
	}

	if skipProtocols != 0 {
		milterOpts = append(milterOpts, milter.WithProtocol(skipProtocols))
	}

	// Configure action capabilities
	var actions milter.OptAction
	if cfg.CanAddHeaders {
		actions |= milter.OptAddHeader
	}

	if actions != 0 {
		milterOpts = append(milterOpts, milter.WithAction(actions))
	}

	// Configure timeouts
	if cfg.ReadTimeoutMs > 0 {
		milterOpts = append(milterOpts, milter.WithReadTimeout(
			time.Duration(cfg.ReadTimeoutMs)*time.Millisecond))
	}
	if cfg.WriteTimeoutMs > 0 {
		milterOpts = append(milterOpts, milter.WithWriteTimeout(
			time.Duration(cfg.WriteTimeoutMs)*time.Millisecond))
	}

	// One handler per SMTP session, all sharing the classifier
	milterOpts = append(milterOpts, milter.WithMilter(func() milter.Milter {
		return NewHandler(cfg, classifier, logger)
	}))

	return &Server{
		config:     cfg,
		classifier: classifier,
		milterSrv:  milter.NewServer(milterOpts...),
		logger:     logger,
	}, nil
}

// Serve accepts connections on listener until ctx is cancelled or the server fails
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	errChan := make(chan error, 1)
	go func() {
		errChan <- s.milterSrv.Serve(listener)
	}()

	s.logger.Info().Str("address", listener.Addr().String()).Msg("Milter server listening")

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(
			context.Background(),
			time.Duration(s.config.GracefulShutdownTimeout)*time.Millisecond,
		)
		defer cancel()

		if err := s.milterSrv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("failed to shutdown milter server: %w", err)
		}

		s.logger.Info().Uint64("sessions", s.milterSrv.MilterCount()).Msg("Milter server stopped")
		return ctx.Err()

	case err := <-errChan:
		if err != nil {
			return fmt.Errorf("milter server error: %w", err)
		}
		return nil
	}
}

// Close closes the milter server
func (s *Server) Close() error {
	return s.milterSrv.Close()
}

// Stats returns server statistics
func (s *Server) Stats() ServerStats {
	return ServerStats{
		MilterCount: s.milterSrv.MilterCount(),
	}
}

// ServerStats contains server statistics
type ServerStats struct {
	MilterCount uint64 // Total number of milter instances created
}
