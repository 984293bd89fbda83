// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"grimm.is/flowbridge/internal/bridge"
	"grimm.is/flowbridge/internal/flow"
	"grimm.is/flowbridge/internal/metrics"
)

const streamWriteWait = 5 * time.Second

// StreamMessage is one frame of the flow stream.
type StreamMessage struct {
	Status  bridge.Status         `json:"status"`
	Flows   []flow.Snapshot       `json:"flows"`
	Traffic *metrics.TrafficStats `json:"traffic,omitempty"`
}

func (s *Server) streamMessage() StreamMessage {
	msg := StreamMessage{
		Status: s.bridge.Status(),
		Flows:  s.bridge.Flows(),
	}
	if msg.Flows == nil {
		msg.Flows = []flow.Snapshot{}
	}
	if s.traffic != nil {
		stats := s.traffic.Stats()
		msg.Traffic = &stats
	}
	return msg
}

// handleFlowStream pushes a snapshot immediately and then every streamPeriod
// until the client goes away or the server closes.
func (s *Server) handleFlowStream(w http.ResponseWriter, r *http.Request) {
	if !isUpgrade(r) {
		s.writeError(w, http.StatusBadRequest, "websocket upgrade required", nil)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.WithError(err).Debug("websocket upgrade failed")
		return
	}
	defer conn.Close()

	// The client never sends anything useful; reading detects close.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(s.streamPeriod)
	defer ticker.Stop()

	for {
		_ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
		if err := conn.WriteJSON(s.streamMessage()); err != nil {
			s.logger.WithError(err).Debug("flow stream write failed")
			return
		}

		select {
		case <-ticker.C:
		case <-gone:
			return
		case <-s.quit:
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(streamWriteWait))
			return
		case <-r.Context().Done():
			return
		}
	}
}
