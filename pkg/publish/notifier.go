// Package publish hands finished work to the outside world: review-ready
// notifications, content export and social post scheduling.
package publish

import (
	"context"
	"time"

	"missioncontrol/pkg/eventlog"
	"missioncontrol/pkg/logx"
)

// SummaryLimit caps ReviewNotice.Summary in runes.
const SummaryLimit = 200

// ReviewNotice announces a result waiting for review.
type ReviewNotice struct {
	Timestamp   time.Time `json:"timestamp"`
	TaskID      string    `json:"taskId"`
	TaskTitle   string    `json:"taskTitle"`
	AgentName   string    `json:"agentName"`
	AgentAvatar string    `json:"agentAvatar,omitempty"`
	Summary     string    `json:"summary"`
}

// Notifier appends review-ready notices to a JSONL log.
type Notifier struct {
	writer *eventlog.Writer
	logger *logx.Logger
}

// NewNotifier creates a notifier writing through w.
func NewNotifier(w *eventlog.Writer) *Notifier {
	return &Notifier{writer: w, logger: logx.NewLogger("notify")}
}

// ReviewReady records n. Summary is truncated and a zero Timestamp is set
// to now. Failures are logged, never returned.
func (n *Notifier) ReviewReady(_ context.Context, notice ReviewNotice) {
	notice.Summary = truncateRunes(notice.Summary, SummaryLimit)
	if notice.Timestamp.IsZero() {
		notice.Timestamp = time.Now().UTC()
	}
	if err := n.writer.Write(notice); err != nil {
		n.logger.Warn("failed to write review notification for %s: %v", notice.TaskID, err)
	}
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
