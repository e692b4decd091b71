package dispatch

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/example/trip-dispatch/internal/models"
)

var ErrNoSession = errors.New("no driver session")

// WSSession is one connected driver app. Writes are serialized per socket.
type WSSession struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *WSSession) Send(offer models.Offer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(offer)
}

// WSRegistry holds live driver sessions keyed by driver id.
type WSRegistry struct {
	mu       sync.RWMutex
	sessions map[string]*WSSession
}

func NewWSRegistry() *WSRegistry {
	return &WSRegistry{sessions: make(map[string]*WSSession)}
}

func (r *WSRegistry) Add(driverID string, conn *websocket.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if prev, ok := r.sessions[driverID]; ok {
		_ = prev.conn.Close()
	}
	r.sessions[driverID] = &WSSession{conn: conn}
}

// Remove drops the driver's session, but only while it still owns conn. A
// reconnect that already replaced the session is left alone, so the old
// socket's read pump cannot take the new session down with it.
func (r *WSRegistry) Remove(driverID string, conn *websocket.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[driverID]
	if !ok || s.conn != conn {
		return
	}
	_ = s.conn.Close()
	delete(r.sessions, driverID)
}

func (r *WSRegistry) Notify(driverID string, offer models.Offer) error {
	r.mu.RLock()
	s, ok := r.sessions[driverID]
	r.mu.RUnlock()
	if !ok {
		return ErrNoSession
	}
	return s.Send(offer)
}

// PushNotifier posts offers to the external notification gateway.
type PushNotifier struct {
	Endpoint string
	Client   *http.Client
}

func NewPushNotifier(endpoint string) *PushNotifier {
	return &PushNotifier{Endpoint: endpoint, Client: &http.Client{Timeout: 3 * time.Second}}
}

func (p *PushNotifier) Notify(driverID string, offer models.Offer) error {
	body, _ := json.Marshal(map[string]any{"recipient": driverID, "offer": offer})
	resp, err := p.Client.Post(p.Endpoint, "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("notification gateway: status %d", resp.StatusCode)
	}
	return nil
}

// ChainNotifier tries the live WebSocket session first and falls back to the
// push gateway when the driver is not connected.
type ChainNotifier struct {
	WS   *WSRegistry
	Push *PushNotifier
}

func (c *ChainNotifier) Notify(driverID string, offer models.Offer) error {
	if c.WS != nil {
		err := c.WS.Notify(driverID, offer)
		if err == nil || !errors.Is(err, ErrNoSession) {
			return err
		}
	}
	if c.Push != nil {
		return c.Push.Notify(driverID, offer)
	}
	return ErrNoSession
}
