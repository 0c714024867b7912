package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/cashstore/merchant-api/internal/models"
)

// LogNotifier is the default workflow event sink. It writes structured log
// entries for downstream log-based alerting; a webhook or message broker
// implementation can replace it without touching the services.
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier constructs a notifier backed by the given logger.
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogNotifier{logger: logger}
}

// Notify implements Notifier.
func (n *LogNotifier) Notify(ctx context.Context, event string, payload interface{}) {
	fields := []zap.Field{zap.String("event", event)}
	if req, ok := payload.(*models.CashbackRequest); ok && req != nil {
		fields = append(fields,
			zap.String("cashback_id", req.ID),
			zap.String("request_number", req.RequestNumber),
			zap.String("merchant_id", req.MerchantID),
		)
	}
	n.logger.Info("workflow event", fields...)
}
