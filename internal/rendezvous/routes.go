package rendezvous

import (
	"encoding/json"
	"net/http"

	"github.com/qstransfer/qs/internal/logger"
)

func (s *Server) routes() {
	s.router.Use(logger.Middleware(s.logger))
	s.router.HandleFunc("/rendezvous/host/{peerID}", s.handleHost())
	s.router.HandleFunc("/rendezvous/receiver/{peerID}", s.handleReceiver())
	s.router.HandleFunc("/version", s.handleVersion())
}

func (s *Server) handleVersion() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(s.version)
	}
}
