// internal/handlers/ws_codes.go
package handlers

import "github.com/coder/websocket"

// Custom WebSocket close codes used by the room feed.
const (
	BadSubprotocolError   websocket.StatusCode = 3000 // Client connected with an unsupported subprotocol.
	InvalidAuthTokenError websocket.StatusCode = 3001 // Token missing, invalid or expired.
	InvalidRoomIDError    websocket.StatusCode = 3003 // Room id in the URL is not a positive integer.
)
