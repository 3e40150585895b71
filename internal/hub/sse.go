package hub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/crosstalkhq/crosstalk/internal/crosstalk"
	"github.com/crosstalkhq/crosstalk/internal/toollog"
)

// handleStream opens the agent's event stream. Joining registers the agent
// under a fresh session, drains its buffered backlog down the new stream,
// then forwards live pushes until the client goes away. Closing the stream
// removes the agent record; the next connect starts a fresh session.
//
// @Summary Open an agent event stream
// @Description Server-sent events; each event's data line is one message JSON.
// @Tags agents
// @Produce text/event-stream
// @Param api_key query string true "Team api key"
// @Param agent_name query string true "Agent name to register"
// @Success 200 {string} string "event stream"
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse "team is at capacity"
// @Router /agent/stream [get]
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	team := teamFrom(r)
	name := agentNameFrom(r)
	if name == "" {
		writeError(w, http.StatusBadRequest, "validation_error",
			"agent_name query parameter or X-Agent-Name header is required")
		return
	}
	if name == crosstalk.Broadcast {
		writeError(w, http.StatusBadRequest, "validation_error",
			`"broadcast" is a reserved name`)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming_unsupported",
			"response writer does not support streaming")
		return
	}

	agent, backlog, err := s.engine.Join(r.Context(), team.ID, name)
	if errors.Is(err, ErrTeamFull) {
		writeError(w, http.StatusConflict, "team_full",
			"team already has the maximum number of agents")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "join_error", err.Error())
		return
	}

	ch, unsub := s.engine.Live().Subscribe(team.ID, name)
	streamConnectionsActive.Inc()
	toollog.Log.Info("Agent stream opened",
		"team_id", team.ID, "agent", name, "backlog", len(backlog))

	defer func() {
		unsub()
		streamConnectionsActive.Dec()

		// Session-guarded removal: if the agent already reconnected, the
		// record carries a newer session and stays.
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.engine.Leave(ctx, team.ID, name, agent.SessionID); err != nil {
			toollog.Log.Warn("Failed to remove agent after stream close",
				"team_id", team.ID, "agent", name, "error", err)
		}
		toollog.Log.Info("Agent stream closed", "team_id", team.ID, "agent", name)
	}()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	// Comment line so the client sees bytes before the first message.
	fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	for _, msg := range backlog {
		if err := writeEvent(w, msg); err != nil {
			return
		}
	}
	if len(backlog) > 0 {
		flusher.Flush()
	}

	keepalive := time.NewTicker(streamKeepalive)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case msg, open := <-ch:
			if !open {
				// A newer stream for this agent took over.
				return
			}
			if err := writeEvent(w, msg); err != nil {
				return
			}
			flusher.Flush()
		case <-keepalive.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// writeEvent writes one message as a server-sent event. JSON string
// escaping keeps the payload on a single data line.
func writeEvent(w io.Writer, msg crosstalk.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", data)
	return err
}
