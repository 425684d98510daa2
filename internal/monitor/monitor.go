package monitor

import (
	"context"
	"time"

	"go.uber.org/zap"

	"strategy-core/internal/events"
	"strategy-core/pkg/db"
)

// Monitor watches job results on the bus and emits alerts.
type Monitor struct {
	Bus   *events.Bus
	Sink  AlertSink
	Rules []Rule
	Log   *zap.Logger
}

// Start subscribes and returns immediately. The subscription ends with ctx.
func (m *Monitor) Start(ctx context.Context) {
	log := m.Log
	if log == nil {
		log = zap.NewNop()
	}
	if m.Bus == nil || m.Sink == nil || len(m.Rules) == 0 {
		log.Info("monitor not fully configured; skipping")
		return
	}
	stream, unsub := m.Bus.Subscribe(events.EventJobCompleted, 50)
	go func() {
		defer unsub()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-stream:
				if !ok {
					return
				}
				res, ok := msg.(db.JobResult)
				if !ok {
					continue
				}
				m.check(ctx, log, res)
			}
		}
	}()
}

func (m *Monitor) check(ctx context.Context, log *zap.Logger, res db.JobResult) {
	for _, r := range m.Rules {
		fire, text := r.Check(res)
		if !fire {
			continue
		}
		sendCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		err := m.Sink.Send(sendCtx, formatAlert(text))
		cancel()
		if err != nil {
			log.Warn("send alert failed", zap.String("job_id", res.JobID), zap.Error(err))
		}
	}
}

func formatAlert(msg string) string {
	return "[" + time.Now().UTC().Format(time.RFC3339) + "] " + msg
}
