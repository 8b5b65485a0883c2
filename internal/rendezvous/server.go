package rendezvous

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/qstransfer/qs/internal/semver"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// ReceiverJoinTimeout bounds how long a host will wait in its mailbox
// for a receiver to redeem the same ticket before giving up.
const ReceiverJoinTimeout = 2 * time.Minute

// Server is the rendezvous relay: it pairs a host and a receiver that
// hold the same ticket, relays their PAKE handshake, and optionally
// relays the muxed, Noise-encrypted session itself when a direct
// connection between the peers isn't possible.
type Server struct {
	httpServer *http.Server
	router     *mux.Router
	mailboxes  *Mailboxes
	logger     *zap.Logger
	version    semver.Version
	signal     chan os.Signal
	once       sync.Once
}

func NewServer(port int, version semver.Version, lgr *zap.Logger) *Server {
	router := mux.NewRouter()
	stdLog, _ := zap.NewStdLogAt(lgr, zap.ErrorLevel)
	s := &Server{
		router:    router,
		mailboxes: &Mailboxes{},
		logger:    lgr,
		version:   version,
		signal:    make(chan os.Signal, 1),
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", port),
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 0, // signaling connections are held open for the session lifetime
			Handler:      router,
			ErrorLog:     stdLog,
		},
	}
	s.routes()
	return s
}

// Start runs the rendezvous server until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	s.logger.With(
		zap.String("version", s.version.String()),
		zap.String("address", s.httpServer.Addr),
	).Info("serving rendezvous relay")

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down rendezvous relay: %w", err)
	}
	s.logger.Info("rendezvous relay shut down cleanly")
	return nil
}

// Router exposes the underlying handler, used directly by tests that
// want to run the server against an httptest.Server instead of binding
// a real port.
func (s *Server) Router() http.Handler {
	return s.router
}

func (s *Server) Shutdown() {
	s.once.Do(func() { close(s.signal) })
}
