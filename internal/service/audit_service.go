package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cashstore/merchant-api/internal/models"
	"github.com/cashstore/merchant-api/pkg/jobs"
)

type auditStore interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
	ListByResource(ctx context.Context, resource, resourceID string, limit int) ([]models.AuditLog, error)
}

// AuditService persists audit records off the request path through a
// background queue. Record never fails the caller; an entry that cannot be
// enqueued is dropped with a warning.
type AuditService struct {
	repo   auditStore
	queue  *jobs.Queue
	logger *zap.Logger
}

// NewAuditService constructs the service and its worker queue. Call Start
// before use and Stop on shutdown to drain pending entries.
func NewAuditService(repo auditStore, logger *zap.Logger) *AuditService {
	if logger == nil {
		logger = zap.NewNop()
	}
	svc := &AuditService{repo: repo, logger: logger}
	svc.queue = jobs.NewQueue("audit", svc.handle, jobs.QueueConfig{
		Workers:    2,
		BufferSize: 256,
		MaxRetries: 3,
		RetryDelay: 500 * time.Millisecond,
		Logger:     logger,
	})
	return svc
}

// Start launches the queue workers.
func (s *AuditService) Start(ctx context.Context) {
	s.queue.Start(ctx)
}

// Stop drains and stops the queue workers.
func (s *AuditService) Stop() {
	s.queue.Stop()
}

// Record enqueues an audit entry for asynchronous persistence.
func (s *AuditService) Record(ctx context.Context, log *models.AuditLog) {
	if log == nil {
		return
	}
	if log.ID == "" {
		log.ID = uuid.NewString()
	}
	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now().UTC()
	}
	if err := s.queue.Enqueue(jobs.Job{ID: log.ID, Type: log.Action, Payload: log}); err != nil {
		s.logger.Warn("audit entry dropped",
			zap.String("action", log.Action),
			zap.Error(err),
		)
	}
}

// History returns the audit trail for one resource, oldest first.
func (s *AuditService) History(ctx context.Context, resource, resourceID string, limit int) ([]models.AuditLog, error) {
	return s.repo.ListByResource(ctx, resource, resourceID, limit)
}

func (s *AuditService) handle(ctx context.Context, job jobs.Job) error {
	log, ok := job.Payload.(*models.AuditLog)
	if !ok {
		s.logger.Warn("audit job with unexpected payload", zap.String("id", job.ID))
		return nil
	}
	return s.repo.CreateAuditLog(ctx, log)
}
