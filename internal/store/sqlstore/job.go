package sqlstore

import (
	"context"

	"github.com/suPer8Hu/commerce-chat/internal/models"
)

func (r *Repo) CreateJob(ctx context.Context, job *models.InboundJob) error {
	return r.db.WithContext(ctx).Create(job).Error
}

func (r *Repo) GetJobByID(ctx context.Context, id string) (*models.InboundJob, error) {
	var j models.InboundJob
	if err := r.db.WithContext(ctx).First(&j, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &j, nil
}

// UpdateJobStatusRunning moves a queued job to running. It reports false when
// the job was not queued (already picked up by another worker).
func (r *Repo) UpdateJobStatusRunning(ctx context.Context, id string) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.InboundJob{}).
		Where("id = ? AND status = ?", id, models.JobQueued).
		Update("status", models.JobRunning)
	return res.RowsAffected > 0, res.Error
}

func (r *Repo) MarkJobSucceeded(ctx context.Context, id string, conversationID string, botMsgID uint64) error {
	return r.db.WithContext(ctx).Model(&models.InboundJob{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":            models.JobSucceeded,
			"conversation_id":   conversationID,
			"result_message_id": botMsgID,
			"error":             nil,
		}).Error
}

func (r *Repo) MarkJobFailed(ctx context.Context, id string, errMsg string) error {
	return r.db.WithContext(ctx).Model(&models.InboundJob{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":            models.JobFailed,
			"error":             errMsg,
			"result_message_id": nil,
		}).Error
}

func (r *Repo) GetJobByIdempotencyKey(ctx context.Context, platform models.Platform, key string) (*models.InboundJob, error) {
	var job models.InboundJob
	err := r.db.WithContext(ctx).
		Where("platform = ? AND idempotency_key = ?", platform, key).
		First(&job).Error
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// CreateJobOrGetExisting tries to create a job, but if (platform, idempotency_key) already exists,
// it returns the existing job instead.
func (r *Repo) CreateJobOrGetExisting(ctx context.Context, job *models.InboundJob) (*models.InboundJob, bool, error) {
	if job.IdempotencyKey == nil || *job.IdempotencyKey == "" {
		// No key provided -> always a new job
		job.IdempotencyKey = nil
		if err := r.db.WithContext(ctx).Create(job).Error; err != nil {
			return nil, false, err
		}
		return job, true, nil
	}

	err := r.db.WithContext(ctx).Create(job).Error
	if err == nil {
		return job, true, nil
	}

	existing, getErr := r.GetJobByIdempotencyKey(ctx, job.Platform, *job.IdempotencyKey)
	if getErr == nil {
		return existing, false, nil
	}

	if IsNotFound(getErr) {
		return nil, false, err
	}
	return nil, false, getErr
}
