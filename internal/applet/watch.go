package applet

import (
	"context"
	"net/http"
	"net/url"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/0xaae/notes-service/internal/notes"
)

// Watch subscribes to the service's event stream and invokes handler for
// every event until ctx is cancelled or the connection drops. A client that
// was disconnected simply misses events: reconnect and re-fetch a snapshot.
func (c *Client) Watch(ctx context.Context, session string, handler func(notes.Event)) error {
	target := "ws://notes-service/v1/events"
	if session != "" {
		target += "?session=" + url.QueryEscape(session)
	}
	// no overall timeout: the subscription lives until cancelled
	httpClient := &http.Client{Transport: unixTransport(c.socketPath)}
	conn, _, err := websocket.Dial(ctx, target, &websocket.DialOptions{
		HTTPClient: httpClient,
	})
	if err != nil {
		return err
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	for {
		var ev notes.Event
		if err := wsjson.Read(ctx, conn, &ev); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		handler(ev)
	}
}
