package webui

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"missioncontrol/pkg/approve"
	"missioncontrol/pkg/config"
	"missioncontrol/pkg/executor"
	"missioncontrol/pkg/intake"
	"missioncontrol/pkg/loopctl"
	"missioncontrol/pkg/persistence"
)

// statusFor maps domain errors onto HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, persistence.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, persistence.ErrConflict), intake.IsDuplicate(err):
		return http.StatusConflict
	case errors.Is(err, approve.ErrFeedbackRequired), errors.Is(err, approve.ErrUnknownAction),
		errors.Is(err, intake.ErrInvalidTask), errors.Is(err, intake.ErrInvalidBatch),
		errors.Is(err, intake.ErrCyclicBatch), executor.IsValidation(err):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// handleQueue implements GET /api/queue (status) and POST /api/queue
// ({"action": "start"|"stop"}).
func (s *Server) handleQueue(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		st, err := s.deps.Queue.Status(r.Context())
		if err != nil {
			s.logger.Error("Failed to read queue status: %v", err)
			s.writeError(w, http.StatusInternalServerError, "Failed to read queue status")
			return
		}
		s.writeJSON(w, http.StatusOK, st)
	case http.MethodPost:
		var body struct {
			Action string `json:"action"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		var (
			err   error
			reply any
		)
		switch body.Action {
		case "start":
			reply, err = s.deps.Queue.Start(r.Context())
		case "stop":
			reply, err = s.deps.Queue.Stop(r.Context())
		default:
			s.writeError(w, http.StatusBadRequest, `Unknown action. Use action: "start" or "stop".`)
			return
		}
		if err != nil {
			s.writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
		s.writeJSON(w, http.StatusOK, reply)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// dependsOn accepts either a JSON array of ids or a comma-separated string.
type dependsOn []string

func (d *dependsOn) UnmarshalJSON(data []byte) error {
	var list []string
	if err := json.Unmarshal(data, &list); err == nil {
		*d = list
		return nil
	}
	var csv string
	if err := json.Unmarshal(data, &csv); err != nil {
		return errors.New("dependsOn must be an array or a comma-separated string")
	}
	*d = nil
	for _, id := range strings.Split(csv, ",") {
		if id = strings.TrimSpace(id); id != "" {
			*d = append(*d, id)
		}
	}
	return nil
}

// handleCreateTask implements POST /api/tasks.
func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var body struct {
		Title       string    `json:"title"`
		Description string    `json:"description"`
		Status      string    `json:"status"`
		Priority    string    `json:"priority"`
		AssigneeID  string    `json:"assigneeId"`
		Tags        []string  `json:"tags"`
		DependsOn   dependsOn `json:"dependsOn"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	if strings.TrimSpace(body.Title) == "" {
		s.writeError(w, http.StatusBadRequest, "title is required")
		return
	}

	task := &persistence.Task{
		Title:       body.Title,
		Description: body.Description,
		Status:      persistence.TaskStatus(body.Status),
		Priority:    persistence.ParsePriority(body.Priority),
		AssigneeID:  body.AssigneeID,
		Tags:        body.Tags,
		DependsOn:   body.DependsOn,
	}
	out, err := s.deps.Creator.Create(r.Context(), task)
	if err != nil {
		var dup *intake.DuplicateError
		if errors.As(err, &dup) {
			s.writeJSON(w, http.StatusConflict, map[string]any{
				"error":          err.Error(),
				"existingTaskId": dup.ExistingID,
				"existingStatus": dup.ExistingStatus,
			})
			return
		}
		s.writeError(w, statusFor(err), err.Error())
		return
	}
	s.writeJSON(w, http.StatusCreated, map[string]any{
		"task":       out.Task,
		"held":       out.Held(),
		"heldReason": out.Reason,
	})
}

// handleReview implements POST /api/tasks/{id}/review.
func (s *Server) handleReview(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var body struct {
		Action   string `json:"action"`
		Feedback string `json:"feedback"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	out, err := s.deps.Reviewer.Act(r.Context(), r.PathValue("id"), approve.Action(body.Action), body.Feedback)
	if err != nil {
		s.writeError(w, statusFor(err), err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"ok": true, "message": out.Message, "newTaskId": out.NewTaskID})
}

// handleProduce implements POST /api/produce with either {"taskId": ...}
// naming a completed Producer task or {"tasks": [...]} given directly.
func (s *Server) handleProduce(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var body struct {
		TaskID string        `json:"taskId"`
		Tasks  []intake.Spec `json:"tasks"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	var (
		res *intake.BatchResult
		err error
	)
	switch {
	case body.TaskID != "":
		res, err = s.deps.Creator.Produce(r.Context(), body.TaskID)
	case body.Tasks != nil:
		res, err = s.deps.Creator.ProduceSpecs(r.Context(), body.Tasks, "")
	default:
		s.writeError(w, http.StatusBadRequest, "Provide taskId or tasks array")
		return
	}
	if err != nil {
		s.writeError(w, statusFor(err), err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

// handleExecute implements POST /api/execute. A providerConfig with an API
// key overrides provider resolution for this run only.
func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var body struct {
		TaskID         string `json:"taskId"`
		ProviderConfig *struct {
			Type      string `json:"type"`
			BaseURL   string `json:"baseUrl"`
			APIKey    string `json:"apiKey"`
			Model     string `json:"model"`
			MaxTokens int    `json:"maxTokens"`
		} `json:"providerConfig"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	if body.TaskID == "" {
		s.writeError(w, http.StatusBadRequest, "Missing taskId")
		return
	}

	var override *persistence.ProviderConfig
	if pc := body.ProviderConfig; pc != nil && pc.APIKey != "" {
		override = &persistence.ProviderConfig{
			Type:      pc.Type,
			Name:      "override",
			BaseURL:   pc.BaseURL,
			APIKey:    pc.APIKey,
			Model:     pc.Model,
			MaxTokens: pc.MaxTokens,
		}
	}

	res, err := s.deps.Executor.Execute(r.Context(), body.TaskID, override)
	if err != nil {
		s.writeError(w, statusFor(err), err.Error())
		return
	}
	if res.Status == persistence.ResultError {
		s.writeError(w, http.StatusInternalServerError, res.Error)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

type loopControls struct {
	MaxTodoPerAgent             int `json:"maxTodoPerAgent"`
	MaxReviewPerContentCategory int `json:"maxReviewPerContentCategory"`
	StagingBlockThreshold       int `json:"stagingBlockThresholdPerCategory"`
}

func currentLoopControls() loopControls {
	l := config.LoopLimits()
	return loopControls{
		MaxTodoPerAgent:             l.MaxTodoPerAgent,
		MaxReviewPerContentCategory: l.MaxReviewPerContentCategory,
		StagingBlockThreshold:       l.StagingBlockThreshold,
	}
}

// handleLoopControls implements GET and PUT /api/loop-controls. PUT values
// are clamped and persisted to the config file.
func (s *Server) handleLoopControls(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.writeJSON(w, http.StatusOK, currentLoopControls())
	case http.MethodPut:
		body := currentLoopControls()
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			s.writeError(w, http.StatusBadRequest, "Invalid JSON")
			return
		}
		limits := config.LoopLimits()
		limits.MaxTodoPerAgent = body.MaxTodoPerAgent
		limits.MaxReviewPerContentCategory = body.MaxReviewPerContentCategory
		limits.StagingBlockThreshold = body.StagingBlockThreshold
		if err := config.UpdateLoop(&limits); err != nil {
			s.logger.Error("Failed to update loop controls: %v", err)
			s.writeError(w, http.StatusInternalServerError, "Failed to update loop controls")
			return
		}
		s.writeJSON(w, http.StatusOK, currentLoopControls())
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleLoopHealth implements GET /api/loop-health.
func (s *Server) handleLoopHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	h, err := loopctl.ComputeHealth(r.Context(), s.deps.Store)
	if err != nil {
		s.logger.Error("Failed to compute loop health: %v", err)
		s.writeError(w, http.StatusInternalServerError, "Failed to compute loop health")
		return
	}
	s.writeJSON(w, http.StatusOK, h)
}

// MessageEntry is a comms message as served to clients.
type MessageEntry struct {
	CreatedAt       time.Time `json:"createdAt"`
	ID              string    `json:"id"`
	FromAgentID     string    `json:"fromAgentId"`
	FromAgentName   string    `json:"fromAgentName,omitempty"`
	FromAgentAvatar string    `json:"fromAgentAvatar,omitempty"`
	ToAgentID       string    `json:"toAgentId,omitempty"`
	Content         string    `json:"content"`
	Type            string    `json:"type"`
}

// handleMessages implements GET /api/messages?limit=N, newest first.
func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			s.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, 500)
	}

	msgs, err := s.deps.Store.ListMessages(r.Context(), time.Time{}, limit)
	if err != nil {
		s.logger.Error("Failed to list messages: %v", err)
		s.writeError(w, http.StatusInternalServerError, "Failed to fetch messages")
		return
	}
	agents, err := s.deps.Store.ListAgents(r.Context())
	if err != nil {
		s.logger.Error("Failed to list agents: %v", err)
		s.writeError(w, http.StatusInternalServerError, "Failed to fetch messages")
		return
	}
	byID := make(map[string]*persistence.Agent, len(agents))
	for _, a := range agents {
		byID[a.ID] = a
	}

	out := make([]MessageEntry, 0, len(msgs))
	for _, m := range msgs {
		e := MessageEntry{
			CreatedAt:   m.CreatedAt,
			ID:          m.ID,
			FromAgentID: m.FromAgentID,
			ToAgentID:   m.ToAgentID,
			Content:     m.Content,
			Type:        m.Type,
		}
		if a, ok := byID[m.FromAgentID]; ok {
			e.FromAgentName, e.FromAgentAvatar = a.Name, a.Avatar
		}
		out = append(out, e)
	}
	s.writeJSON(w, http.StatusOK, out)
}

// handleAgents implements GET /api/agents.
func (s *Server) handleAgents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	agents, err := s.deps.Store.ListAgents(r.Context())
	if err != nil {
		s.logger.Error("Failed to list agents: %v", err)
		s.writeError(w, http.StatusInternalServerError, "Failed to fetch agents")
		return
	}
	s.writeJSON(w, http.StatusOK, agents)
}

// handleSecrets implements GET /api/secrets. Only names are returned.
func (s *Server) handleSecrets(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	names := config.SecretNames()
	if names == nil {
		names = []string{}
	}
	s.writeJSON(w, http.StatusOK, map[string][]string{"names": names})
}

// handleHealth implements GET /api/healthz.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "version": s.deps.Version})
}
