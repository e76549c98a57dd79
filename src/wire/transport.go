package wire

import (
	"github.com/gorilla/websocket"
)

// Send writes u to conn as a single binary websocket frame.
func Send(conn *websocket.Conn, u *RelayUpdate) error {
	return conn.WriteMessage(websocket.BinaryMessage, u.Encode())
}

// Receive blocks for the next binary websocket frame on conn and decodes
// it as a RelayUpdate.
func Receive(conn *websocket.Conn) (*RelayUpdate, error) {
	_, data, err := conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	return Decode(data)
}
