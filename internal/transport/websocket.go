// Package transport carries OCPP messages between the engine and its peers:
// websocket connections for OCPP-J and HTTP callbacks for OCPP-S stations.
package transport

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"ocpp-engine/internal/ocpp"
)

// Subprotocol is negotiated on every OCPP-J websocket.
const Subprotocol = "ocpp1.6"

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingInterval = (pongWait * 9) / 10
)

// Conn is one OCPP-J websocket. Writes are serialized; a single goroutine
// runs ReadLoop.
type Conn struct {
	ws         *websocket.Conn
	remoteAddr string
	writeMu    sync.Mutex
	closeOnce  sync.Once
	done       chan struct{}
}

func newConn(ws *websocket.Conn, remoteAddr string) *Conn {
	return &Conn{ws: ws, remoteAddr: remoteAddr, done: make(chan struct{})}
}

// Send encodes msg as an OCPP-J frame and writes it as a text message.
func (c *Conn) Send(msg *ocpp.Message) error {
	data, err := ocpp.Encode(msg)
	if err != nil {
		return err
	}
	return c.write(websocket.TextMessage, data)
}

func (c *Conn) write(messageType int, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.ws.WriteMessage(messageType, data)
}

// Close sends a close frame and shuts the socket. Further calls are no-ops.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		c.writeMu.Lock()
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
		c.writeMu.Unlock()
		err = c.ws.Close()
	})
	return err
}

func (c *Conn) RemoteAddr() string {
	return c.remoteAddr
}

// ReadLoop passes every received text or binary message to onFrame until
// the connection fails or is closed. A normal close returns nil.
func (c *Conn) ReadLoop(onFrame func(data []byte)) error {
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})
	go c.keepAlive()

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			closedLocally := false
			select {
			case <-c.done:
				closedLocally = true
			default:
			}
			c.Close()
			if closedLocally || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return err
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
		onFrame(data)
	}
}

func (c *Conn) keepAlive() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			c.writeMu.Unlock()
			if err != nil {
				log.Debugf("TRANSPORT: Ping to %s failed: %v", c.remoteAddr, err)
				return
			}
		}
	}
}

var upgrader = websocket.Upgrader{
	Subprotocols: []string{Subprotocol},
	CheckOrigin:  func(r *http.Request) bool { return true },
}

// Upgrade accepts an OCPP-J websocket. A client that offers subprotocols
// must offer ocpp1.6.
func Upgrade(w http.ResponseWriter, r *http.Request) (*Conn, error) {
	if offered := websocket.Subprotocols(r); len(offered) > 0 && !contains(offered, Subprotocol) {
		http.Error(w, "unsupported subprotocol", http.StatusBadRequest)
		return nil, fmt.Errorf("client offered subprotocols %v without %s", offered, Subprotocol)
	}
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}
	return newConn(ws, r.RemoteAddr), nil
}

// Dial opens an OCPP-J websocket to the Central System at baseURL. The
// station identity is the last path segment.
func Dial(ctx context.Context, baseURL, identity string) (*Conn, error) {
	url := strings.TrimSuffix(baseURL, "/") + "/" + identity
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: 10 * time.Second,
		Subprotocols:     []string{Subprotocol},
	}
	ws, resp, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (HTTP %d)", url, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	if ws.Subprotocol() != Subprotocol {
		log.Warnf("TRANSPORT: %s did not negotiate %s", url, Subprotocol)
	}
	return newConn(ws, url), nil
}

func contains(values []string, want string) bool {
	for _, v := range values {
		if v == want {
			return true
		}
	}
	return false
}
