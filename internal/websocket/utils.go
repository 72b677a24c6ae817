package websocket

import (
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait = 10 * time.Second
	// readWait bounds client silence; the exam client pings well inside it.
	readWait = 5 * time.Minute
)

// Write sends one event frame.
func Write(conn *websocket.Conn, event Event, requestID string, data any) error {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(Response{Event: event, RequestID: requestID, Data: data})
}

// WriteError sends an error frame with a catalog code.
func WriteError(conn *websocket.Conn, requestID, code, message string) error {
	return Write(conn, EventError, requestID, ErrorData{Code: code, Message: message})
}

// ReadRequest reads and decodes the next client frame under a read deadline.
func ReadRequest(conn *websocket.Conn) (*Request, error) {
	conn.SetReadDeadline(time.Now().Add(readWait))
	var req Request
	if err := conn.ReadJSON(&req); err != nil {
		return nil, err
	}
	return &req, nil
}
