// Package relayconn races a local (LAN) relay connection against a public
// relay connection and keeps whichever becomes ready first, tearing the
// loser down.
package relayconn

import (
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/flashcat/flashcat/src/wire"
)

// ConnectionType indicates whether a connection is local or internet-based.
type ConnectionType string

const (
	ConnectionTypeLocal    ConnectionType = "local"
	ConnectionTypeInternet ConnectionType = "internet"
)

// RelayConnection represents a single connection to a relay server.
type RelayConnection struct {
	Conn     *websocket.Conn
	Type     ConnectionType
	URL      string
	IsActive bool
	mutex    sync.Mutex
}

// ConnectionManager manages multiple relay connections and prefers local
// ones once they become ready, discarding the other.
type ConnectionManager struct {
	Connections    []*RelayConnection
	PreferredConn  *RelayConnection
	mutex          sync.RWMutex
	messageChannel chan *wire.RelayUpdate
	closeChannel   chan struct{}
	closeOnce      sync.Once
	logger         *slog.Logger
}

// NewConnectionManager creates a new connection manager.
func NewConnectionManager(logger *slog.Logger) *ConnectionManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &ConnectionManager{
		Connections:    make([]*RelayConnection, 0, 2),
		messageChannel: make(chan *wire.RelayUpdate, 100),
		closeChannel:   make(chan struct{}),
		logger:         logger,
	}
}

// AddConnection adds a new relay connection to the manager. A local
// connection always wins preference over whatever is currently preferred;
// an internet connection is only preferred when nothing else is set yet.
func (cm *ConnectionManager) AddConnection(conn *websocket.Conn, connType ConnectionType, rawURL string) *RelayConnection {
	cm.mutex.Lock()
	defer cm.mutex.Unlock()

	rc := &RelayConnection{
		Conn:     conn,
		Type:     connType,
		URL:      rawURL,
		IsActive: true,
	}

	cm.Connections = append(cm.Connections, rc)

	previous := cm.PreferredConn
	if connType == ConnectionTypeLocal {
		cm.PreferredConn = rc
		cm.logger.Info("preferring local relay connection", "url", rawURL)
	} else if cm.PreferredConn == nil {
		cm.PreferredConn = rc
		cm.logger.Info("using internet relay connection", "url", rawURL)
	}

	if previous != nil && previous != cm.PreferredConn {
		cm.closeConnection(previous)
	}

	go cm.listenToConnection(rc)

	return rc
}

func (cm *ConnectionManager) closeConnection(rc *RelayConnection) {
	rc.mutex.Lock()
	defer rc.mutex.Unlock()
	if rc.IsActive {
		rc.IsActive = false
		rc.Conn.Close()
	}
}

// listenToConnection listens for frames from a specific connection and
// forwards them to the shared message channel.
func (cm *ConnectionManager) listenToConnection(rc *RelayConnection) {
	defer func() {
		rc.mutex.Lock()
		rc.IsActive = false
		rc.mutex.Unlock()
		rc.Conn.Close()
	}()

	for {
		msg, err := wire.Receive(rc.Conn)
		if err != nil {
			return
		}

		select {
		case cm.messageChannel <- msg:
		case <-cm.closeChannel:
			return
		}
	}
}

// SendMessage sends u through the preferred connection.
func (cm *ConnectionManager) SendMessage(u *wire.RelayUpdate) error {
	cm.mutex.RLock()
	preferred := cm.PreferredConn
	cm.mutex.RUnlock()

	if preferred == nil {
		return fmt.Errorf("relayconn: no active connection available")
	}

	preferred.mutex.Lock()
	defer preferred.mutex.Unlock()

	if !preferred.IsActive {
		return fmt.Errorf("relayconn: preferred connection is not active")
	}

	return wire.Send(preferred.Conn, u)
}

// BroadcastMessage sends u through every active connection.
func (cm *ConnectionManager) BroadcastMessage(u *wire.RelayUpdate) {
	cm.mutex.RLock()
	connections := make([]*RelayConnection, len(cm.Connections))
	copy(connections, cm.Connections)
	cm.mutex.RUnlock()

	for _, rc := range connections {
		rc.mutex.Lock()
		if rc.IsActive {
			_ = wire.Send(rc.Conn, u)
		}
		rc.mutex.Unlock()
	}
}

// ReceiveMessage waits for and returns the next frame from any connection.
func (cm *ConnectionManager) ReceiveMessage() (*wire.RelayUpdate, error) {
	select {
	case msg := <-cm.messageChannel:
		return msg, nil
	case <-cm.closeChannel:
		return nil, fmt.Errorf("relayconn: connection manager closed")
	}
}

// GetPreferredConnectionType returns the type of the current preferred
// connection, or "" if none is set.
func (cm *ConnectionManager) GetPreferredConnectionType() ConnectionType {
	cm.mutex.RLock()
	defer cm.mutex.RUnlock()

	if cm.PreferredConn != nil {
		return cm.PreferredConn.Type
	}
	return ""
}

// Close closes all connections and stops the connection manager.
func (cm *ConnectionManager) Close() {
	cm.closeOnce.Do(func() { close(cm.closeChannel) })

	cm.mutex.Lock()
	defer cm.mutex.Unlock()

	for _, rc := range cm.Connections {
		rc.mutex.Lock()
		rc.IsActive = false
		rc.Conn.Close()
		rc.mutex.Unlock()
	}
}

// ConnectWithTimeout dials a relay's websocket endpoint with a bounded
// handshake timeout.
func ConnectWithTimeout(serverURL string, timeout time.Duration) (*websocket.Conn, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return nil, err
	}
	u.Path = "/ws"

	dialer := websocket.Dialer{
		HandshakeTimeout: timeout,
	}

	conn, _, err := dialer.Dial(u.String(), nil)
	return conn, err
}
