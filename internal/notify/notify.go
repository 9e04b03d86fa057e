// Package notify publishes job lifecycle events over NATS. All publishes
// are fire-and-forget; a nil Notifier is a no-op so the service runs
// without a broker.
package notify

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/loomworks/loom/internal/extraction"
)

// SubjectJobCompleted carries completed-job notifications.
const SubjectJobCompleted = "loom.extraction.job.completed"

// JobCompletedEvent is the payload published when a job reaches a terminal
// state.
type JobCompletedEvent struct {
	JobID     string               `json:"job_id"`
	ProjectID string               `json:"project_id"`
	Status    extraction.JobStatus `json:"status"`
	Summary   *extraction.Summary  `json:"summary,omitempty"`
	Error     string               `json:"error,omitempty"`
}

type Notifier struct {
	conn   *nats.Conn
	logger *slog.Logger
}

func New(url, token string, logger *slog.Logger) (*Notifier, error) {
	opts := []nats.Option{
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(60),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info("nats reconnected")
		}),
	}
	if token != "" {
		opts = append(opts, nats.Token(token))
	}

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	return &Notifier{conn: nc, logger: logger}, nil
}

// JobCompleted publishes the terminal state of a job. Failures are logged,
// never returned; notification delivery is best-effort.
func (n *Notifier) JobCompleted(jobID, projectID uuid.UUID, status extraction.JobStatus, summary *extraction.Summary, errMsg string) {
	if n == nil {
		return
	}
	payload, err := json.Marshal(JobCompletedEvent{
		JobID:     jobID.String(),
		ProjectID: projectID.String(),
		Status:    status,
		Summary:   summary,
		Error:     errMsg,
	})
	if err != nil {
		n.logger.Warn("marshal job event", "job_id", jobID, "error", err)
		return
	}
	if err := n.conn.Publish(SubjectJobCompleted, payload); err != nil {
		n.logger.Warn("publish job event", "job_id", jobID, "error", err)
	}
}

func (n *Notifier) Close() {
	if n == nil {
		return
	}
	n.conn.Close()
}
