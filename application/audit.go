package application

import (
	"go.uber.org/zap"

	"github.com/lk2023060901/danmu-garden-connhub/internal/connection/event"
	zlog "github.com/lk2023060901/danmu-garden-connhub/pkg/log"
)

// auditObserver writes every lifecycle event to the "audit" logger.
type auditObserver struct {
	logger *zlog.MLogger
}

func newAuditObserver(logger *zlog.MLogger) *auditObserver {
	return &auditObserver{logger: logger}
}

func (a *auditObserver) Name() string {
	return "audit"
}

func (a *auditObserver) OnEvent(evt event.Event) error {
	fields := []zap.Field{
		zap.String("kind", string(evt.Kind)),
		zlog.FieldSessionID(evt.SessionID),
		zap.Time("timestamp", evt.Timestamp),
	}
	if evt.TabID != "" {
		fields = append(fields, zlog.FieldTabID(evt.TabID))
	}
	if len(evt.Payload) > 0 {
		fields = append(fields, zap.Any("payload", evt.Payload))
	}
	a.logger.Info("connection event", fields...)
	return nil
}
