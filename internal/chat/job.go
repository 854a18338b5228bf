package chat

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"gorm.io/datatypes"

	"github.com/suPer8Hu/commerce-chat/internal/common"
	"github.com/suPer8Hu/commerce-chat/internal/models"
)

const maxIdempotencyKey = 128

var (
	ErrQueueUnavailable   = errors.New("chat: job queue is not configured")
	ErrIdempotencyKeySize = errors.New("chat: idempotency key too long")
)

// Publisher hands a job id to the worker queue.
type Publisher interface {
	PublishJob(ctx context.Context, jobID string) error
}

// SetPublisher enables EnqueueMessage.
func (s *Service) SetPublisher(p Publisher) { s.publisher = p }

// EnqueueMessage accepts a message for the worker. A repeated idempotency key
// on the same platform returns the existing job and publishes nothing.
func (s *Service) EnqueueMessage(ctx context.Context, req Request, idempotencyKey string) (*models.InboundJob, bool, error) {
	if s.publisher == nil {
		return nil, false, ErrQueueUnavailable
	}
	if len(idempotencyKey) > maxIdempotencyKey {
		return nil, false, ErrIdempotencyKeySize
	}
	if err := req.Validate(); err != nil {
		return nil, false, err
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, false, err
	}
	jobID, err := common.NewULID()
	if err != nil {
		return nil, false, err
	}

	j := &models.InboundJob{
		ID:       jobID,
		Platform: req.Platform,
		Payload:  datatypes.JSON(payload),
		Status:   models.JobQueued,
	}
	if idempotencyKey != "" {
		j.IdempotencyKey = &idempotencyKey
	}

	job, created, err := s.repo.CreateJobOrGetExisting(ctx, j)
	if err != nil {
		return nil, false, errors.Wrap(err, "create job")
	}

	// enqueue only when a new job was created
	if created {
		if err := s.publisher.PublishJob(ctx, job.ID); err != nil {
			_ = s.repo.MarkJobFailed(ctx, job.ID, "enqueue failed: "+err.Error())
			return nil, false, errors.Wrap(err, "publish job")
		}
	}
	return job, created, nil
}

func (s *Service) GetJob(ctx context.Context, jobID string) (*models.InboundJob, error) {
	return s.repo.GetJobByID(ctx, jobID)
}

// HandleJob runs a queued job through the pipeline. A job that is no longer
// queued (redelivery) is skipped.
func (s *Service) HandleJob(ctx context.Context, jobID string) error {
	jobStart := time.Now()
	logger := log.WithField("job_id", jobID)

	claimed, err := s.repo.UpdateJobStatusRunning(ctx, jobID)
	if err != nil {
		return errors.Wrap(err, "claim job")
	}
	j, err := s.repo.GetJobByID(ctx, jobID)
	if err != nil {
		return errors.Wrap(err, "load job")
	}
	if !claimed {
		logger.WithField("status", j.Status).Info("job already taken, skipping")
		return nil
	}

	var req Request
	if err := json.Unmarshal(j.Payload, &req); err != nil {
		_ = s.repo.MarkJobFailed(ctx, jobID, "bad payload: "+err.Error())
		return errors.Wrap(err, "decode job payload")
	}

	resp, err := s.ProcessMessage(ctx, req)
	if err != nil {
		if markErr := s.repo.MarkJobFailed(ctx, jobID, err.Error()); markErr != nil {
			logger.WithError(markErr).Error("mark job failed")
		}
		return err
	}
	if err := s.repo.MarkJobSucceeded(ctx, jobID, resp.ConversationID, resp.MessageID); err != nil {
		return errors.Wrap(err, "mark job succeeded")
	}

	if total := time.Since(jobStart); total > 2*time.Second {
		logger.WithField("total", total.String()).Warn("slow job")
	}
	return nil
}
