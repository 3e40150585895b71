package hub

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/crosstalkhq/crosstalk/internal/crosstalk"
)

// ErrorResponse is an API error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// CreateTeamResponse carries the new team's ID and its one-time api key.
type CreateTeamResponse struct {
	TeamID string `json:"teamId"`
	APIKey string `json:"apiKey"`
}

// SendRequest is the body of a send call.
type SendRequest struct {
	To      string                `json:"to"`
	Type    crosstalk.MessageType `json:"type"`
	Content string                `json:"content"`
}

// SendResponse reports an accepted send.
type SendResponse struct {
	OK          bool   `json:"ok"`
	MessageID   string `json:"messageId"`
	DeliveredTo int    `json:"deliveredTo"`
}

// AgentSummary is one row of the agent listing. It never includes buffered
// message contents or session identifiers.
type AgentSummary struct {
	Name            string    `json:"name"`
	ConnectedAt     time.Time `json:"connectedAt"`
	PendingMessages int       `json:"pendingMessages"`
}

// HealthResponse is the health check response.
type HealthResponse struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptimeSeconds"`
}

// StatsResponse summarizes hub-wide state.
type StatsResponse struct {
	Teams         int   `json:"teams"`
	Agents        int   `json:"agents"`
	Buffered      int   `json:"buffered"`
	LiveStreams   int   `json:"liveStreams"`
	UptimeSeconds int64 `json:"uptimeSeconds"`
}

// handleCreateTeam creates a team and returns its credential.
//
// @Summary Create a team
// @Description Mints a new team and its shared api key. The key is returned once and only its hash is stored.
// @Tags teams
// @Produce json
// @Success 200 {object} CreateTeamResponse
// @Failure 500 {object} ErrorResponse
// @Router /teams/create [post]
func (s *Server) handleCreateTeam(w http.ResponseWriter, r *http.Request) {
	team, key, err := s.engine.CreateTeam(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "create_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, CreateTeamResponse{TeamID: team.ID, APIKey: key})
}

// handleSend accepts a message from the authenticated agent and fans it out.
//
// @Summary Send a message
// @Description Delivers a message to one agent or, with to set to "broadcast", to every team member except the sender.
// @Tags agents
// @Accept json
// @Produce json
// @Param api_key query string true "Team api key"
// @Param agent_name query string true "Sending agent name"
// @Param message body SendRequest true "Message to deliver"
// @Success 200 {object} SendResponse
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /agent/send [post]
func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	defer func() {
		sendDurationSeconds.Observe(time.Since(start).Seconds())
	}()

	team := teamFrom(r)
	from := agentNameFrom(r)
	if from == "" {
		sendRequestsTotal.WithLabelValues("invalid").Inc()
		writeError(w, http.StatusBadRequest, "validation_error",
			"agent_name query parameter or X-Agent-Name header is required")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var req SendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendRequestsTotal.WithLabelValues("invalid").Inc()
		writeError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}
	if req.To == "" {
		sendRequestsTotal.WithLabelValues("invalid").Inc()
		writeError(w, http.StatusBadRequest, "validation_error", "to is required")
		return
	}
	if !crosstalk.ValidMessageType(req.Type) {
		sendRequestsTotal.WithLabelValues("invalid").Inc()
		writeError(w, http.StatusBadRequest, "validation_error",
			fmt.Sprintf("unknown message type %q (valid: %v)", req.Type, crosstalk.MessageTypes()))
		return
	}

	res, err := s.engine.Send(r.Context(), team.ID, from, req.To, req.Type, req.Content)
	if errors.Is(err, ErrTeamNotFound) {
		sendRequestsTotal.WithLabelValues("team_not_found").Inc()
		writeError(w, http.StatusNotFound, "team_not_found", "team no longer exists")
		return
	}
	if err != nil {
		sendRequestsTotal.WithLabelValues("error").Inc()
		writeError(w, http.StatusInternalServerError, "send_error", err.Error())
		return
	}

	sendRequestsTotal.WithLabelValues("ok").Inc()
	writeJSON(w, http.StatusOK, SendResponse{
		OK:          true,
		MessageID:   res.Message.ID,
		DeliveredTo: res.DeliveredTo,
	})
}

// handleListAgents lists the authenticated team's agents.
//
// @Summary List team agents
// @Description Returns every agent currently registered in the caller's team.
// @Tags agents
// @Produce json
// @Param api_key query string true "Team api key"
// @Success 200 {array} AgentSummary
// @Failure 401 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /agent/list [get]
func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	team := teamFrom(r)

	agents, err := s.store.ListAgents(r.Context(), team.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "store_error", err.Error())
		return
	}

	summaries := make([]AgentSummary, 0, len(agents))
	for _, a := range agents {
		summaries = append(summaries, AgentSummary{
			Name:            a.Name,
			ConnectedAt:     a.ConnectedAt,
			PendingMessages: len(a.Buffer),
		})
	}
	writeJSON(w, http.StatusOK, summaries)
}

// handleHealth reports liveness.
//
// @Summary Health check
// @Tags hub
// @Produce json
// @Success 200 {object} HealthResponse
// @Router /healthz [get]
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
	})
}

// handleStats reports aggregate counts. No team or agent identifiers leak.
//
// @Summary Hub statistics
// @Tags hub
// @Produce json
// @Success 200 {object} StatsResponse
// @Failure 500 {object} ErrorResponse
// @Router /stats [get]
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	st, err := s.engine.Stats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "store_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, StatsResponse{
		Teams:         st.Teams,
		Agents:        st.Agents,
		Buffered:      st.Buffered,
		LiveStreams:   s.engine.Live().Count(),
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
	})
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, err string, msg string) {
	writeJSON(w, status, ErrorResponse{Error: err, Message: msg})
}
