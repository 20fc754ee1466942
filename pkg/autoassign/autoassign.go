// Package autoassign routes unassigned tasks to an agent by keyword.
package autoassign

import (
	"context"
	"errors"
	"strings"

	"missioncontrol/pkg/logx"
	"missioncontrol/pkg/persistence"
)

// Rule maps any of Keywords to an agent codename.
type Rule struct {
	Codename string
	Keywords []string
}

// DefaultRules is the routing table, first match wins.
//
//nolint:gochecknoglobals // static routing table
var DefaultRules = []Rule{
	{Codename: "TABSMITH", Keywords: []string{"lick", "tab", "guitar"}},
	{Codename: "ARCHITECT", Keywords: []string{"course", "curriculum", "lesson"}},
	{Codename: "TRACKMASTER", Keywords: []string{"backing", "track", "audio", "music"}},
	{Codename: "THEORYBOT", Keywords: []string{"theory"}},
	{Codename: "COACH", Keywords: []string{"practice", "coach", "plan"}},
	{Codename: "FEEDBACK", Keywords: []string{"progress", "analytics", "churn"}},
	{Codename: "CONTENTMILL", Keywords: []string{"blog", "content", "newsletter", "email"}},
	{Codename: "SEOHAWK", Keywords: []string{"seo", "keyword"}},
	{Codename: "COMMUNITY", Keywords: []string{"community", "social", "discord"}},
	{Codename: "BIZOPS", Keywords: []string{"revenue", "kpi", "financial", "metric"}},
}

// Store is the persistence surface the assigner needs.
type Store interface {
	GetAgentByCodename(ctx context.Context, codename string) (*persistence.Agent, error)
	AssignTask(ctx context.Context, id, agentID string) error
}

// Assigner picks agents for unassigned tasks.
type Assigner struct {
	store  Store
	rules  []Rule
	logger *logx.Logger
}

// New creates an assigner. Nil rules means DefaultRules.
func New(store Store, rules []Rule) *Assigner {
	if rules == nil {
		rules = DefaultRules
	}
	return &Assigner{store: store, rules: rules, logger: logx.NewLogger("autoassign")}
}

// Match returns the codename for tags, falling back to description, or "".
func (a *Assigner) Match(tags []string, description string) string {
	if code := a.match(strings.Join(tags, " ")); code != "" {
		return code
	}
	return a.match(description)
}

func (a *Assigner) match(text string) string {
	lower := strings.ToLower(text)
	if lower == "" {
		return ""
	}
	for _, r := range a.rules {
		for _, kw := range r.Keywords {
			if strings.Contains(lower, kw) {
				return r.Codename
			}
		}
	}
	return ""
}

// Assign sets the assignee of taskID when a rule matches an existing
// agent. It reports false when no agent could be chosen.
func (a *Assigner) Assign(ctx context.Context, taskID string, tags []string, description string) (bool, error) {
	code := a.Match(tags, description)
	if code == "" {
		return false, nil
	}
	agent, err := a.store.GetAgentByCodename(ctx, code)
	if errors.Is(err, persistence.ErrNotFound) {
		a.logger.Debug("no agent %s for task %s", code, taskID)
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := a.store.AssignTask(ctx, taskID, agent.ID); err != nil {
		if errors.Is(err, persistence.ErrConflict) {
			return false, nil
		}
		return false, err
	}
	a.logger.Info("🎯 Auto-assigned task %s to %s", taskID, agent.Codename)
	return true, nil
}
