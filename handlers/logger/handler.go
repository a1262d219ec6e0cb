// Package logger implements the scheduled logger worker: on each tick it
// drains lines accumulated by a logshipper.Shipper and forwards them to the
// control plane as category=log signals.
package logger

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/adno-labs/agent-runtime/internal/handler"
	"github.com/adno-labs/agent-runtime/internal/logshipper"
	"github.com/adno-labs/agent-runtime/internal/model"
)

// Handler ships buffered log lines to the control plane.
type Handler struct {
	shipper *logshipper.Shipper
}

// New builds a Handler over an already-running Shipper.
func New(shipper *logshipper.Shipper) *Handler {
	return &Handler{shipper: shipper}
}

type result struct {
	LinesShipped int `json:"lines_shipped"`
}

// Execute implements handler.Handler.
func (h *Handler) Execute(ctx context.Context, task model.AgentTask, hc handler.Context) (model.TaskResult, error) {
	lines := h.shipper.Drain()
	if len(lines) == 0 {
		return json.Marshal(result{})
	}

	now := time.Now()
	signals := make([]model.Signal, 0, len(lines))
	for _, l := range lines {
		signals = append(signals, model.Signal{
			Category:  "log",
			Type:      model.SignalLog,
			Severity:  model.SeverityInfo,
			Message:   l.Text,
			Timestamp: now,
		})
	}

	if err := hc.ControlPlane.SendSignals(ctx, signals); err != nil {
		return nil, fmt.Errorf("ship %d log lines: %w", len(signals), err)
	}

	return json.Marshal(result{LinesShipped: len(signals)})
}
