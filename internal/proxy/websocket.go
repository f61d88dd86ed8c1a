package proxy

import (
	"net/http"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/edgegw/edgegw/internal/observability"
	"github.com/edgegw/edgegw/internal/router"
)

// websocketProxy relays WebSocket connections between client and backend.
type websocketProxy struct {
	logger observability.Logger
}

// upgrader upgrades client HTTP connections to WebSocket.
var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// serveWebSocket picks a host and relays the upgraded connection. The
// retry path does not apply here: once the upgrade handshake reaches a
// backend the connection is bound to it.
func (e *Engine) serveWebSocket(w http.ResponseWriter, r *http.Request, route *router.Route) {
	host := route.Pool.Pick()
	if host == nil {
		writeJSONError(w, http.StatusServiceUnavailable, "no healthy backend available")
		return
	}
	defer route.Pool.Release(host)

	backendURL := "ws://" + host.Address + route.RewritePath(r.URL.Path)
	if r.URL.RawQuery != "" {
		backendURL += "?" + r.URL.RawQuery
	}

	if err := e.ws.relayTo(w, r, backendURL); err != nil {
		e.logger.Debug("websocket relay ended",
			observability.String("route", route.Prefix),
			observability.String("host", host.Address),
			observability.Error(err),
		)
	}
}

// relayTo dials the backend, upgrades the client, and copies messages in
// both directions until either side closes.
func (wp *websocketProxy) relayTo(w http.ResponseWriter, r *http.Request, backendURL string) error {
	dialer := websocket.Dialer{}
	requestHeader := buildWSRequestHeaders(r)

	backendConn, resp, err := dialer.DialContext(r.Context(), backendURL, requestHeader)
	if err != nil {
		wp.handleDialError(w, resp, err)
		return err
	}
	defer backendConn.Close()

	clientConn, err := upgrader.Upgrade(w, r, buildWSResponseHeaders(resp))
	if err != nil {
		return err
	}
	defer clientConn.Close()

	wp.relay(clientConn, backendConn)
	return nil
}

// handleDialError forwards the backend's handshake rejection to the
// client, or a generic Bad Gateway when there is no response.
func (wp *websocketProxy) handleDialError(w http.ResponseWriter, resp *http.Response, dialErr error) {
	if resp != nil {
		defer resp.Body.Close()
		for k, vv := range resp.Header {
			for _, v := range vv {
				w.Header().Add(k, v)
			}
		}
		w.WriteHeader(resp.StatusCode)
	} else {
		writeJSONError(w, http.StatusBadGateway, "upstream request failed")
	}
	wp.logger.Debug("websocket backend dial failed",
		observability.Error(dialErr),
	)
}

// relay copies messages between the two connections until one direction
// fails, then signals a normal close to the other side.
func (wp *websocketProxy) relay(clientConn, backendConn *websocket.Conn) {
	errCh := make(chan error, 2)

	copyMessages := func(dst, src *websocket.Conn) {
		for {
			msgType, msg, readErr := src.ReadMessage()
			if readErr != nil {
				_ = dst.WriteMessage(
					websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				)
				errCh <- readErr
				return
			}
			if writeErr := dst.WriteMessage(msgType, msg); writeErr != nil {
				errCh <- writeErr
				return
			}
		}
	}

	go copyMessages(clientConn, backendConn)
	go copyMessages(backendConn, clientConn)

	<-errCh
}

// buildWSRequestHeaders forwards client headers, excluding the WebSocket
// handshake headers gorilla manages itself.
func buildWSRequestHeaders(r *http.Request) http.Header {
	header := http.Header{}
	for k, vv := range r.Header {
		switch strings.ToLower(k) {
		case "upgrade", "connection", "sec-websocket-key",
			"sec-websocket-version", "sec-websocket-extensions",
			"sec-websocket-protocol":
			continue
		}
		for _, v := range vv {
			header.Add(k, v)
		}
	}
	return header
}

// buildWSResponseHeaders forwards backend handshake headers to the
// client, excluding the protocol headers gorilla manages.
func buildWSResponseHeaders(resp *http.Response) http.Header {
	if resp == nil {
		return nil
	}
	header := http.Header{}
	for k, vv := range resp.Header {
		switch strings.ToLower(k) {
		case "upgrade", "connection", "sec-websocket-accept":
			continue
		}
		for _, v := range vv {
			header.Add(k, v)
		}
	}
	return header
}

// headerContainsToken reports whether a comma-separated header contains
// the token, case-insensitively.
func headerContainsToken(h http.Header, name, token string) bool {
	for _, value := range h.Values(name) {
		for _, part := range strings.Split(value, ",") {
			if strings.EqualFold(strings.TrimSpace(part), token) {
				return true
			}
		}
	}
	return false
}
