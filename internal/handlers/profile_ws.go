package handlers

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kiviatgo/kiviatgo-backend/internal/services"
)

var profileUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// CORS for WebSocket is handled at the HTTP layer already.
		return true
	},
}

// ProfileWebSocket streams reconciled profile snapshots to the client.
// Authentication via the session token (Authorization header, or `token`
// query parameter for browser WebSocket clients).
func ProfileWebSocket(w http.ResponseWriter, r *http.Request) {
	token := extractBearerToken(r.Header.Get("Authorization"))
	if token == "" {
		token = r.URL.Query().Get("token")
		if token == "" {
			http.Error(w, "missing session token", http.StatusUnauthorized)
			return
		}
	}

	uid, ok, err := services.ValidateSession(token)
	if err != nil || !ok {
		http.Error(w, "invalid session token", http.StatusUnauthorized)
		return
	}
	userID := uid.String()

	// A fresh tab after a server restart still has a valid Redis session;
	// make sure a reconciliation session is running for it.
	reconciler.EnsureSubscribed(userID)

	conn, err := profileUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	// The client owns all writes to this connection; hub publishes and
	// the initial snapshot below share its single writer.
	client := profileHub.Register(userID, conn)
	defer profileHub.Unregister(client)

	// Push the last reconciled snapshot immediately so the client doesn't
	// wait for the next document change.
	if profile := reconciler.Current(userID); profile != nil {
		client.Send(profile)
	}

	// Reader loop exists only to detect disconnects and answer pings.
	conn.SetReadLimit(4 * 1024)
	_ = conn.SetReadDeadline(time.Now().Add(90 * time.Second))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(90 * time.Second))
		return nil
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(90 * time.Second))
	}
}
