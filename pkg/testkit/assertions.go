package testkit

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"missioncontrol/pkg/persistence"
)

// AssertTaskStatus reloads the task and checks its status.
func AssertTaskStatus(t *testing.T, s *persistence.Store, taskID string, want persistence.TaskStatus) *persistence.Task {
	t.Helper()
	task, err := s.GetTask(context.Background(), taskID)
	require.NoError(t, err)
	if task.Status != want {
		t.Errorf("task %q: expected status %s, got %s", task.Title, want, task.Status)
	}
	return task
}

// AssertAgentFree checks that the agent holds no task and is online.
func AssertAgentFree(t *testing.T, s *persistence.Store, agentID string) *persistence.Agent {
	t.Helper()
	a, err := s.GetAgent(context.Background(), agentID)
	require.NoError(t, err)
	if a.CurrentTaskID != "" {
		t.Errorf("agent %s still holds task %s", a.Codename, a.CurrentTaskID)
	}
	if a.Status != persistence.AgentOnline {
		t.Errorf("agent %s: expected online, got %s", a.Codename, a.Status)
	}
	return a
}

// FindMessage returns the first message whose content contains fragment,
// or nil.
func FindMessage(t *testing.T, s *persistence.Store, fragment string) *persistence.Message {
	t.Helper()
	msgs, err := s.ListMessages(context.Background(), Epoch.Add(-1), 500)
	require.NoError(t, err)
	for _, m := range msgs {
		if strings.Contains(m.Content, fragment) {
			return m
		}
	}
	return nil
}

// AssertMessage fails unless a message containing fragment was posted.
func AssertMessage(t *testing.T, s *persistence.Store, fragment string) *persistence.Message {
	t.Helper()
	m := FindMessage(t, s, fragment)
	if m == nil {
		t.Errorf("expected a message containing %q", fragment)
	}
	return m
}
