/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	ws "nhooyr.io/websocket"

	"github.com/friendsincode/cueloop/internal/events"
	"github.com/friendsincode/cueloop/internal/telemetry"
)

const eventsPingInterval = 15 * time.Second

type eventMessage struct {
	Kind events.Kind  `json:"kind"`
	Data events.Event `json:"data"`
	At   time.Time    `json:"at"`
}

// handleEvents streams bus events to a websocket client. The optional
// kinds query parameter is a comma separated filter.
func (a *API) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := ws.Accept(w, r, &ws.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		a.logger.Error().Err(err).Msg("websocket accept failed")
		return
	}
	defer conn.Close(ws.StatusInternalError, "server error")

	telemetry.WebsocketConnections.WithLabelValues("events").Inc()
	defer telemetry.WebsocketConnections.WithLabelValues("events").Dec()

	sub := a.bus.Subscribe(parseKinds(r.URL.Query().Get("kinds"))...)
	defer a.bus.Unsubscribe(sub)

	// Client messages are ignored; CloseRead notices when the client leaves.
	ctx := conn.CloseRead(r.Context())

	ticker := time.NewTicker(eventsPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			conn.Close(ws.StatusNormalClosure, "")
			return
		case <-ticker.C:
			if err := conn.Write(ctx, ws.MessageText, []byte(`{"kind":"ping"}`)); err != nil {
				a.logger.Debug().Err(err).Msg("websocket ping failed")
				return
			}
		case ev, ok := <-sub:
			if !ok {
				conn.Close(ws.StatusGoingAway, "event bus closed")
				return
			}
			if err := writeEvent(ctx, conn, ev); err != nil {
				a.logger.Debug().Err(err).Msg("websocket write failed")
				return
			}
		}
	}
}

func writeEvent(ctx context.Context, conn *ws.Conn, ev events.Event) error {
	data, err := json.Marshal(eventMessage{Kind: ev.Kind(), Data: ev, At: time.Now().UTC()})
	if err != nil {
		return err
	}
	return conn.Write(ctx, ws.MessageText, data)
}

func parseKinds(raw string) []events.Kind {
	if raw == "" {
		return nil
	}
	var kinds []events.Kind
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			kinds = append(kinds, events.Kind(part))
		}
	}
	return kinds
}
