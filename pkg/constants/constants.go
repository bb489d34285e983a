package constants

import "time"

var (
	WebsocketScheme       = "ws"
	WebsocketSecureScheme = "wss"
	HTTPScheme            = "http"
	HTTPSecureScheme      = "https"
)

const (
	// DefaultWSTimeout bounds how long a websocket Send waits for its response.
	DefaultWSTimeout = 30 * time.Second
	// DefaultHTTPTimeout is the client timeout used by the HTTP connection.
	DefaultHTTPTimeout = 10 * time.Second
	// CloseMessageCode is the websocket close code sent on a normal close.
	CloseMessageCode = 1000

	// DefaultIDField is the name under which documents store their identifier.
	DefaultIDField = "id"
)
