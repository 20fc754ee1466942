package publish

import (
	"context"

	"github.com/sourcegraph/conc"

	"missioncontrol/pkg/logx"
	"missioncontrol/pkg/persistence"
)

// Approval is an approved result ready to leave the system.
type Approval struct {
	Task      *persistence.Task
	AgentName string
	// Content is exported; repaired structured output when available.
	Content string
	// Response is the raw model output, split into social posts.
	Response string
}

// Dispatcher runs export and social scheduling in the background after
// approval. Panics in either are recovered and logged.
type Dispatcher struct {
	exporter *Exporter
	social   *SocialPublisher
	logger   *logx.Logger
	wg       conc.WaitGroup
}

// NewDispatcher creates a dispatcher. Either collaborator may be nil.
func NewDispatcher(exporter *Exporter, social *SocialPublisher) *Dispatcher {
	return &Dispatcher{exporter: exporter, social: social, logger: logx.NewLogger("publish")}
}

// Approved hands a off without blocking. The work outlives ctx's
// cancellation but keeps its values.
func (d *Dispatcher) Approved(ctx context.Context, a Approval) {
	ctx = context.WithoutCancel(ctx)
	d.wg.Go(func() { d.run(ctx, a) })
}

func (d *Dispatcher) run(ctx context.Context, a Approval) {
	var wg conc.WaitGroup
	if d.exporter != nil {
		wg.Go(func() {
			path, err := d.exporter.Export(a.Task, a.AgentName, a.Content)
			switch {
			case err != nil:
				d.logger.Warn("⚠️  export failed for %s: %v", a.Task.ID, err)
			case path != "":
				d.logger.Info("📦 Exported %q to %s", a.Task.Title, path)
			}
		})
	}
	if d.social != nil && IsSocial(a.Task) {
		wg.Go(func() {
			n, err := d.social.Publish(ctx, a.Task, a.Response)
			if err != nil {
				d.logger.Warn("⚠️  social scheduling failed for %s: %v", a.Task.ID, err)
				return
			}
			if n > 0 {
				d.logger.Info("📣 Scheduled %d social items for %q", n, a.Task.Title)
			}
		})
	}
	if r := wg.WaitAndRecover(); r != nil {
		d.logger.Error("publish panicked: %s", r.String())
	}
}

// Wait blocks until every handed-off approval has finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}
