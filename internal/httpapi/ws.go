package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	// Origin policy is enforced by the CORS layer in front of the router.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleDriverWS attaches a driver app session to the offer registry.
func (s *Server) handleDriverWS(w http.ResponseWriter, r *http.Request) {
	driverID := mux.Vars(r)["driver_id"]
	caller := callerFrom(r.Context())
	if caller.ID == "" || (caller.ID != driverID && caller.Role != "admin") {
		writeError(w, http.StatusForbidden, "unauthorized", "session must match caller")
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	s.wsreg.Add(driverID, conn)

	// Drain client frames; on read error the socket is gone and the session
	// must leave the registry, or offers would keep going to a dead driver.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			s.wsreg.Remove(driverID, conn)
			return
		}
	}
}

// handleTripWS streams a trip's live location samples to an observer.
func (s *Server) handleTripWS(w http.ResponseWriter, r *http.Request) {
	tripID := mux.Vars(r)["trip_id"]
	t, err := s.trips.Get(r.Context(), tripID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	caller := callerFrom(r.Context())
	if caller.Role != "admin" && caller.ID != t.ClientID && caller.ID != t.DriverID {
		writeError(w, http.StatusForbidden, "unauthorized", "not a trip participant")
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	samples, cancel := s.stream.Hub().Subscribe(tripID)
	defer cancel()

	// Drain client frames so we notice the peer going away.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-done:
			_ = conn.Close()
			return
		case sample, ok := <-samples:
			if !ok {
				_ = conn.Close()
				return
			}
			if err := conn.WriteJSON(sample); err != nil {
				_ = conn.Close()
				return
			}
		}
	}
}
