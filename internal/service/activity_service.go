package service

import (
	"context"

	"github.com/chartmaker/chartmaker/internal/models"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

type ActivityStore interface {
	Store(ctx context.Context, activity *models.Activity) error
	ListByAccount(ctx context.Context, accountID string, limit int) ([]models.Activity, error)
}

// ActivityPublisher forwards activity to downstream consumers.
type ActivityPublisher interface {
	Publish(ctx context.Context, activity *models.Activity) error
}

// ActivityService keeps the authentication audit trail. Recording is best
// effort: a failure is logged and never fails the operation being audited.
type ActivityService struct {
	store     ActivityStore
	publisher ActivityPublisher
	clock     Clock
	logger    *logrus.Logger
}

// NewActivityService accepts a nil publisher when no broker is configured.
func NewActivityService(store ActivityStore, publisher ActivityPublisher, clock Clock, logger *logrus.Logger) *ActivityService {
	return &ActivityService{
		store:     store,
		publisher: publisher,
		clock:     clock,
		logger:    logger,
	}
}

func (s *ActivityService) Record(ctx context.Context, activity models.Activity) {
	activity.ID = uuid.New().String()
	activity.CreatedAt = s.clock.Now()

	// The audited operation may already have answered; keep the write alive.
	ctx = context.WithoutCancel(ctx)

	fields := logrus.Fields{
		"account_id": activity.AccountID,
		"action":     activity.Action,
	}

	if err := s.store.Store(ctx, &activity); err != nil {
		s.logger.WithError(err).WithFields(fields).Warn("Failed to store activity")
	}

	if s.publisher != nil {
		if err := s.publisher.Publish(ctx, &activity); err != nil {
			s.logger.WithError(err).WithFields(fields).Warn("Failed to publish activity")
		}
	}
}

func (s *ActivityService) Recent(ctx context.Context, accountID string, limit int) ([]models.Activity, error) {
	return s.store.ListByAccount(ctx, accountID, limit)
}
