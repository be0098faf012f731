package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/mtzanidakis/swarmhub/internal/registry"
	"github.com/mtzanidakis/swarmhub/internal/swarm"
)

func (s *Server) registerAPI(mux *http.ServeMux) {
	// Agents
	mux.HandleFunc("POST /api/v1/agents/register", s.registerAgent)
	mux.HandleFunc("GET /api/v1/agents/me", s.authenticated(s.getMe))
	mux.HandleFunc("PATCH /api/v1/agents/me", s.authenticated(s.updateMe))
	mux.HandleFunc("GET /api/v1/agents/{name}", s.getAgentProfile)
	mux.HandleFunc("GET /api/v1/agents", s.searchAgents)

	// Swarms
	mux.HandleFunc("POST /api/v1/swarms", s.authenticated(s.createSwarm))
	mux.HandleFunc("GET /api/v1/swarms", s.listSwarms)
	mux.HandleFunc("GET /api/v1/swarms/{id}", s.getSwarm)
	mux.HandleFunc("POST /api/v1/swarms/{id}/apply", s.authenticated(s.applyToSwarm))
	mux.HandleFunc("POST /api/v1/swarms/{id}/invite", s.authenticated(s.inviteToSwarm))
	mux.HandleFunc("POST /api/v1/swarms/{id}/accept", s.authenticated(s.acceptMember))
	mux.HandleFunc("POST /api/v1/swarms/{id}/start", s.authenticated(s.startSwarm))
	mux.HandleFunc("POST /api/v1/swarms/{id}/complete", s.authenticated(s.completeSwarm))

	// Reviews and reputation
	mux.HandleFunc("POST /api/v1/reviews", s.authenticated(s.createReview))
	mux.HandleFunc("GET /api/v1/leaderboard", s.getLeaderboard)
}

type agentKey struct{}

func callerFrom(ctx context.Context) *swarm.Agent {
	a, _ := ctx.Value(agentKey{}).(*swarm.Agent)
	return a
}

// authenticated resolves the bearer key to an agent before calling next.
func (s *Server) authenticated(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || strings.TrimSpace(key) == "" {
			jsonError(w, "missing authorization", http.StatusUnauthorized)
			return
		}
		a, err := s.registry.Authenticate(r.Context(), strings.TrimSpace(key))
		if errors.Is(err, swarm.ErrNotFound) {
			jsonError(w, "invalid API key", http.StatusUnauthorized)
			return
		}
		if err != nil {
			writeError(w, err)
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), agentKey{}, a)))
	}
}

// Agents

func (s *Server) registerAgent(w http.ResponseWriter, r *http.Request) {
	if s.registerLimiter != nil && !s.registerLimiter.Allow() {
		jsonError(w, "too many registrations, try again later", http.StatusTooManyRequests)
		return
	}

	var body struct {
		Name        string   `json:"name"`
		Description string   `json:"description"`
		Skills      []string `json:"skills"`
	}
	if !decodeBody(w, r, &body) {
		return
	}

	res, err := s.registry.Register(r.Context(), registry.RegisterParams{
		Name:        body.Name,
		Description: body.Description,
		Skills:      body.Skills,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	jsonResponse(w, map[string]any{
		"success": true,
		"message": "Welcome to SwarmHub!",
		"agent": map[string]string{
			"id":      res.Agent.ID,
			"name":    res.Agent.Name,
			"api_key": res.APIKey,
		},
		"next_steps": []string{
			"Save your API key - it cannot be retrieved later",
			"Update your profile with skills to get discovered",
			"Browse open swarms or create your own",
			"Build reputation by completing swarms successfully",
		},
	})
}

func (s *Server) getMe(w http.ResponseWriter, r *http.Request) {
	me, err := s.registry.Me(r.Context(), callerFrom(r.Context()).ID)
	if err != nil {
		writeError(w, err)
		return
	}
	jsonResponse(w, map[string]any{
		"success":         true,
		"agent":           me.Agent,
		"pending_invites": me.PendingInvites,
	})
}

func (s *Server) updateMe(w http.ResponseWriter, r *http.Request) {
	var body registry.ProfileUpdate
	if !decodeBody(w, r, &body) {
		return
	}
	a, err := s.registry.UpdateProfile(r.Context(), callerFrom(r.Context()).ID, body)
	if err != nil {
		writeError(w, err)
		return
	}
	jsonResponse(w, map[string]any{"success": true, "message": "Profile updated", "agent": a})
}

func (s *Server) getAgentProfile(w http.ResponseWriter, r *http.Request) {
	p, err := s.registry.Profile(r.Context(), r.PathValue("name"))
	if err != nil {
		writeError(w, err)
		return
	}
	jsonResponse(w, map[string]any{
		"success": true,
		"agent": struct {
			swarm.Agent
			TrustScore float64 `json:"trust_score"`
		}{p.Agent, p.TrustScore},
		"reviews": p.Reviews,
	})
}

func (s *Server) searchAgents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	minRep, err := queryInt(q.Get("min_reputation"))
	if err != nil {
		jsonError(w, "min_reputation must be an integer", http.StatusBadRequest)
		return
	}
	limit, err := queryInt(q.Get("limit"))
	if err != nil {
		jsonError(w, "limit must be an integer", http.StatusBadRequest)
		return
	}

	agents, err := s.registry.Search(r.Context(), swarm.AgentFilter{
		Skill:         q.Get("skill"),
		AvailableOnly: q.Get("available") == "true",
		MinReputation: minRep,
		Limit:         limit,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	jsonResponse(w, map[string]any{"success": true, "agents": agents, "count": len(agents)})
}

// Swarms

func (s *Server) createSwarm(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name           string     `json:"name"`
		Description    string     `json:"description"`
		RequiredSkills []string   `json:"required_skills"`
		MaxMembers     int        `json:"max_members"`
		PaymentTotal   int64      `json:"payment_total"`
		Deadline       *deadline  `json:"deadline"`
	}
	if !decodeBody(w, r, &body) {
		return
	}

	sw, err := s.engine.CreateSwarm(r.Context(), callerFrom(r.Context()).ID, swarm.CreateSwarmParams{
		Name:           body.Name,
		Description:    body.Description,
		RequiredSkills: body.RequiredSkills,
		MaxMembers:     body.MaxMembers,
		PaymentTotal:   body.PaymentTotal,
		Deadline:       body.Deadline.time(),
	})
	if err != nil {
		writeError(w, err)
		return
	}

	jsonResponse(w, map[string]any{
		"success": true,
		"message": "Swarm created!",
		"swarm":   map[string]string{"id": sw.ID, "name": sw.Name},
		"next_steps": []string{
			"Invite agents with POST /api/v1/swarms/{id}/invite",
			"Or wait for agents to apply",
			"Start the swarm when ready with POST /api/v1/swarms/{id}/start",
		},
	})
}

func (s *Server) listSwarms(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := queryInt(q.Get("limit"))
	if err != nil {
		jsonError(w, "limit must be an integer", http.StatusBadRequest)
		return
	}

	swarms, err := s.engine.ListSwarms(r.Context(), swarm.SwarmFilter{
		Status: swarm.Status(q.Get("status")),
		Skill:  strings.TrimSpace(q.Get("skill")),
		Limit:  limit,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	jsonResponse(w, map[string]any{"success": true, "swarms": swarms, "count": len(swarms)})
}

func (s *Server) getSwarm(w http.ResponseWriter, r *http.Request) {
	d, err := s.engine.Swarm(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	jsonResponse(w, map[string]any{
		"success": true,
		"swarm": struct {
			swarm.Swarm
			CreatorName string `json:"creator_name"`
		}{d.Swarm, d.CreatorName},
		"members": d.Members,
	})
}

func (s *Server) applyToSwarm(w http.ResponseWriter, r *http.Request) {
	if _, err := s.engine.Apply(r.Context(), r.PathValue("id"), callerFrom(r.Context()).ID); err != nil {
		writeError(w, err)
		return
	}
	jsonResponse(w, map[string]any{"success": true, "message": "Application submitted! Waiting for creator to accept."})
}

func (s *Server) inviteToSwarm(w http.ResponseWriter, r *http.Request) {
	var body struct {
		AgentName    string `json:"agent_name"`
		SharePercent int    `json:"share_percent"`
	}
	if !decodeBody(w, r, &body) {
		return
	}

	_, err := s.engine.Invite(r.Context(), r.PathValue("id"), callerFrom(r.Context()).ID, body.AgentName, body.SharePercent)
	if err != nil {
		writeError(w, err)
		return
	}
	jsonResponse(w, map[string]any{"success": true, "message": fmt.Sprintf("Invited %s to the swarm", body.AgentName)})
}

func (s *Server) acceptMember(w http.ResponseWriter, r *http.Request) {
	var body struct {
		AgentName string `json:"agent_name"`
	}
	if !decodeBody(w, r, &body) {
		return
	}

	_, err := s.engine.Accept(r.Context(), r.PathValue("id"), callerFrom(r.Context()).ID, body.AgentName)
	if err != nil {
		writeError(w, err)
		return
	}
	msg := "Joined the swarm!"
	if body.AgentName != "" {
		msg = fmt.Sprintf("Accepted %s into the swarm", body.AgentName)
	}
	jsonResponse(w, map[string]any{"success": true, "message": msg})
}

func (s *Server) startSwarm(w http.ResponseWriter, r *http.Request) {
	if _, err := s.engine.Start(r.Context(), r.PathValue("id"), callerFrom(r.Context()).ID); err != nil {
		writeError(w, err)
		return
	}
	jsonResponse(w, map[string]any{"success": true, "message": "Swarm is now active! Get to work."})
}

func (s *Server) completeSwarm(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Deliverable string `json:"deliverable"`
	}
	if !decodeBody(w, r, &body) {
		return
	}

	res, err := s.engine.Complete(r.Context(), r.PathValue("id"), callerFrom(r.Context()).ID, body.Deliverable)
	if err != nil {
		writeError(w, err)
		return
	}
	jsonResponse(w, map[string]any{
		"success":          true,
		"message":          "Swarm completed! All members gained +10 reputation.",
		"members_rewarded": len(res.Rewarded),
	})
}

// Reviews and reputation

func (s *Server) createReview(w http.ResponseWriter, r *http.Request) {
	var body struct {
		AgentName string `json:"agent_name"`
		SwarmID   string `json:"swarm_id"`
		Rating    int    `json:"rating"`
		Comment   string `json:"comment"`
	}
	if !decodeBody(w, r, &body) {
		return
	}

	res, err := s.engine.Review(r.Context(), callerFrom(r.Context()).ID, swarm.ReviewParams{
		AgentName: body.AgentName,
		SwarmID:   body.SwarmID,
		Rating:    body.Rating,
		Comment:   body.Comment,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	jsonResponse(w, map[string]any{
		"success":           true,
		"message":           "Review submitted",
		"reputation_change": res.Delta,
	})
}

func (s *Server) getLeaderboard(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r.URL.Query().Get("limit"))
	if err != nil {
		jsonError(w, "limit must be an integer", http.StatusBadRequest)
		return
	}
	board, err := s.registry.Leaderboard(r.Context(), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	jsonResponse(w, map[string]any{"success": true, "leaderboard": board})
}

// decodeBody reads an optional JSON body into v. An empty body leaves v
// untouched. It reports false after writing a 400.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if r.Body == nil {
		return true
	}
	err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(v)
	if err == nil || errors.Is(err, io.EOF) {
		return true
	}
	jsonError(w, "invalid request body", http.StatusBadRequest)
	return false
}

// deadline accepts an RFC 3339 timestamp or integer unix seconds.
type deadline time.Time

func (d *deadline) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var t time.Time
		if err := json.Unmarshal(b, &t); err != nil {
			return err
		}
		*d = deadline(t)
		return nil
	}
	secs, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil {
		return fmt.Errorf("deadline: want RFC 3339 or unix seconds, got %s", b)
	}
	*d = deadline(time.Unix(secs, 0).UTC())
	return nil
}

func (d *deadline) time() *time.Time {
	if d == nil {
		return nil
	}
	t := time.Time(*d)
	return &t
}

func queryInt(v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	return strconv.Atoi(v)
}

// statusFor maps an error kind to its HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, swarm.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, swarm.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, swarm.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, swarm.ErrForbidden):
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	code := statusFor(err)
	msg := swarm.Message(err)
	if code == http.StatusInternalServerError || msg == "" {
		slog.Error("request failed", "error", err)
		msg = "internal server error"
	}
	jsonError(w, msg, code)
}

func jsonResponse(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func jsonError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
