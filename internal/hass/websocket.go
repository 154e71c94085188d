package hass

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/gorilla/websocket"

	"github.com/avhall/hearth/internal/models"
)

// StateChange is one state_changed event delivered by the websocket API.
type StateChange struct {
	EntityID string
	OldState *models.EntityState
	NewState *models.EntityState
}

// wsMessage covers every frame shape the handshake and event stream use.
type wsMessage struct {
	ID      int             `json:"id,omitempty"`
	Type    string          `json:"type"`
	Success *bool           `json:"success,omitempty"`
	Message string          `json:"message,omitempty"`
	Event   *wsEvent        `json:"event,omitempty"`
	Error   json.RawMessage `json:"error,omitempty"`
}

type wsEvent struct {
	EventType string      `json:"event_type"`
	Data      wsEventData `json:"data"`
}

type wsEventData struct {
	EntityID string              `json:"entity_id"`
	OldState *models.EntityState `json:"old_state"`
	NewState *models.EntityState `json:"new_state"`
}

type wsAuthRequest struct {
	Type        string `json:"type"`
	AccessToken string `json:"access_token"`
}

type wsSubscribe struct {
	ID        int    `json:"id"`
	Type      string `json:"type"`
	EventType string `json:"event_type"`
}

// EventStream opens the websocket API, authenticates, subscribes to
// state_changed events, and delivers them until ctx is canceled or the
// connection drops. An auth_invalid handshake triggers one token refresh and
// one redial; a second rejection fails with ReasonMaxRetries.
func (c *Client) EventStream(ctx context.Context) (<-chan StateChange, error) {
	conn, err := c.dialAndAuth(ctx, false)
	if err != nil {
		return nil, err
	}

	sub := wsSubscribe{ID: 1, Type: "subscribe_events", EventType: "state_changed"}
	if err := conn.WriteJSON(sub); err != nil {
		conn.Close()
		return nil, &TransportError{Endpoint: "/api/websocket", Err: err}
	}

	var result wsMessage
	if err := conn.ReadJSON(&result); err != nil {
		conn.Close()
		return nil, &TransportError{Endpoint: "/api/websocket", Err: err}
	}
	if result.Type != "result" || result.Success == nil || !*result.Success {
		conn.Close()
		return nil, &HTTPError{StatusCode: 0, Body: string(result.Error), Endpoint: "/api/websocket"}
	}

	events := make(chan StateChange)
	go c.readEvents(ctx, conn, events)
	return events, nil
}

// dialAndAuth performs the websocket auth handshake.
func (c *Client) dialAndAuth(ctx context.Context, isRetry bool) (*websocket.Conn, error) {
	c.mu.Lock()
	wsURL := c.conn.WebsocketURL()
	token := c.conn.AccessToken
	c.mu.Unlock()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, &TransportError{Endpoint: "/api/websocket", Err: err}
	}

	var required wsMessage
	if err := conn.ReadJSON(&required); err != nil {
		conn.Close()
		return nil, &TransportError{Endpoint: "/api/websocket", Err: err}
	}
	if required.Type != "auth_required" {
		conn.Close()
		return nil, &DecodeError{Endpoint: "/api/websocket", Err: fmt.Errorf("unexpected handshake frame %q", required.Type)}
	}

	if err := conn.WriteJSON(wsAuthRequest{Type: "auth", AccessToken: token}); err != nil {
		conn.Close()
		return nil, &TransportError{Endpoint: "/api/websocket", Err: err}
	}

	var reply wsMessage
	if err := conn.ReadJSON(&reply); err != nil {
		conn.Close()
		return nil, &TransportError{Endpoint: "/api/websocket", Err: err}
	}

	switch reply.Type {
	case "auth_ok":
		return conn, nil
	case "auth_invalid":
		conn.Close()
		if isRetry {
			return nil, &AuthError{Reason: ReasonMaxRetries, Message: "websocket auth rejected after token refresh"}
		}
		if _, err := c.refresh(ctx, token); err != nil {
			return nil, err
		}
		return c.dialAndAuth(ctx, true)
	default:
		conn.Close()
		return nil, &AuthError{Reason: ReasonRefreshFailed, Message: "unexpected auth reply: " + reply.Type}
	}
}

// readEvents pumps decoded state_changed events until the context is canceled
// or the socket errors. It owns the channel and closes it on exit.
func (c *Client) readEvents(ctx context.Context, conn *websocket.Conn, events chan<- StateChange) {
	defer close(events)
	defer conn.Close()

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	for {
		var msg wsMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if ctx.Err() == nil {
				c.logger.Debug().Err(err).Msg("Websocket read ended")
			}
			return
		}
		if msg.Type != "event" || msg.Event == nil || msg.Event.EventType != "state_changed" {
			continue
		}
		change := StateChange{
			EntityID: msg.Event.Data.EntityID,
			OldState: msg.Event.Data.OldState,
			NewState: msg.Event.Data.NewState,
		}
		select {
		case events <- change:
		case <-ctx.Done():
			return
		}
	}
}
