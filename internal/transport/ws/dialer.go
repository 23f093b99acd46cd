package ws

import (
	"context"
	"fmt"
	"time"

	"github.com/gobwas/ws"
	"github.com/omochice/toy-private-chat/internal/chat"
)

// Dialer opens relay connections to a fixed URL.
type Dialer struct {
	URL     string
	Timeout time.Duration
}

// Dial performs the WebSocket handshake.
func (d Dialer) Dial(ctx context.Context) (chat.Conn, error) {
	dialer := ws.Dialer{Timeout: d.Timeout}
	conn, br, _, err := dialer.Dial(ctx, d.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", d.URL, err)
	}
	log.Debugf("connected to %s", d.URL)
	return NewConn(conn, br), nil
}
