package relay

import (
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/omochice/toy-private-chat/pkg/protocol"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	sendBufferSize = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

var errJoinRequired = errors.New("first frame must be join")

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Errorf("websocket upgrade failed: %v", err)
		return
	}
	log.Debugf("websocket connection from %s", r.RemoteAddr)

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	p, err := awaitJoin(conn)
	if err != nil {
		log.Warnf("closing %s: %v", r.RemoteAddr, err)
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, err.Error()),
			time.Now().Add(writeWait))
		conn.Close()
		return
	}
	log.Infof("%s joined from %s", p.name, r.RemoteAddr)

	s.hub.Register(p)
	go writePump(conn, p)
	s.readPump(conn, p)
}

func awaitJoin(conn *websocket.Conn) (*peer, error) {
	_, data, err := conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	frame, err := protocol.Decode(data)
	if err != nil {
		return nil, err
	}
	join, ok := frame.(protocol.Join)
	if !ok {
		return nil, errJoinRequired
	}
	return &peer{name: join.User, send: make(chan []byte, sendBufferSize)}, nil
}

// readPump routes frames from conn until it fails, then unregisters p.
func (s *Server) readPump(conn *websocket.Conn, p *peer) {
	defer func() {
		s.hub.Unregister(p)
		conn.Close()
		log.Infof("%s left", p.name)
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Warnf("read from %s: %v", p.name, err)
			}
			return
		}
		frame, err := protocol.Decode(data)
		if err != nil {
			log.Warnf("skipping frame from %s: %v", p.name, err)
			continue
		}
		s.hub.Route(p, frame)
	}
}

// writePump drains p.send to conn and keeps the connection alive with pings.
// A closed send channel ends the connection with a normal close.
func writePump(conn *websocket.Conn, p *peer) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case data, ok := <-p.send:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Debugf("write to %s: %v", p.name, err)
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
