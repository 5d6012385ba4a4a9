package server

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	log "github.com/sirupsen/logrus"

	"github.com/yegram/yegram/shared/signal/messages"
)

const healthTimeLayout = "2006-01-02T15:04:05.000Z07:00"

// HealthStatus is the body of the read-only status probe
type HealthStatus struct {
	Status    string `json:"status"`
	Users     int    `json:"users"`
	Timestamp string `json:"timestamp"`
}

// Handler returns the HTTP routes of the relay: the websocket endpoint on /ws and /, and the status probe
func (s *Server) Handler() http.Handler {
	router := mux.NewRouter()

	health := cors.New(cors.Options{
		AllowedOrigins: s.allowedOrigins,
		AllowedMethods: []string{http.MethodGet},
	}).Handler(http.HandlerFunc(s.serveHealth))
	router.Handle(messages.HealthURLPath, health).Methods(http.MethodGet, http.MethodOptions)

	router.HandleFunc(messages.WebSocketURLPath, s.ServeWebsocket)
	router.Path("/").HeadersRegexp("Upgrade", "(?i)websocket").HandlerFunc(s.ServeWebsocket)
	router.Path("/").Methods(http.MethodGet).HandlerFunc(serveIndex)

	return router
}

func (s *Server) serveHealth(w http.ResponseWriter, _ *http.Request) {
	status := HealthStatus{
		Status:    "ok",
		Users:     s.registry.Count(),
		Timestamp: s.clock.Now().UTC().Format(healthTimeLayout),
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(status); err != nil {
		log.Errorf("failed to write health status: %s", err)
	}
}

func serveIndex(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("yegram relay\n"))
}
