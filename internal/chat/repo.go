package chat

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

type Repo struct {
	db *gorm.DB
}

func NewRepo(db *gorm.DB) *Repo {
	return &Repo{db: db}
}

// EnsureSession creates the session row on first use and bumps last_activity
// on every later call. Exactly one row per identifier.
func (r *Repo) EnsureSession(ctx context.Context, sessionID string) (*Session, error) {
	var s Session
	err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		First(&s).Error
	if err == nil {
		now := time.Now()
		if err := r.db.WithContext(ctx).Model(&s).Update("last_activity", now).Error; err != nil {
			return nil, err
		}
		s.LastActivity = now
		return &s, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	s = Session{SessionID: sessionID, LastActivity: time.Now()}
	if err := r.db.WithContext(ctx).Create(&s).Error; err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *Repo) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	var s Session
	if err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		First(&s).Error; err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *Repo) DeleteSession(ctx context.Context, sessionID string) error {
	return r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Delete(&Session{}).Error
}

func (r *Repo) InsertConversation(ctx context.Context, c *Conversation) error {
	return r.db.WithContext(ctx).Create(c).Error
}

// ListConversation returns all turns for a session, oldest first.
func (r *Repo) ListConversation(ctx context.Context, sessionID string) ([]Conversation, error) {
	var turns []Conversation
	if err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("created_at ASC, id ASC").
		Find(&turns).Error; err != nil {
		return nil, err
	}
	return turns, nil
}

func (r *Repo) DeleteConversationBySession(ctx context.Context, sessionID string) error {
	return r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Delete(&Conversation{}).Error
}

func (r *Repo) CreateFile(ctx context.Context, f *UploadedFile) error {
	return r.db.WithContext(ctx).Create(f).Error
}

func (r *Repo) GetFileByID(ctx context.Context, fileID string) (*UploadedFile, error) {
	var f UploadedFile
	if err := r.db.WithContext(ctx).First(&f, "id = ?", fileID).Error; err != nil {
		return nil, err
	}
	return &f, nil
}

// ListFilesBySession returns a session's files, most recently uploaded first.
func (r *Repo) ListFilesBySession(ctx context.Context, sessionID string) ([]UploadedFile, error) {
	var files []UploadedFile
	if err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("uploaded_at DESC, id DESC").
		Find(&files).Error; err != nil {
		return nil, err
	}
	return files, nil
}

func (r *Repo) DeleteFileByID(ctx context.Context, fileID string) error {
	return r.db.WithContext(ctx).Delete(&UploadedFile{}, "id = ?", fileID).Error
}

func (r *Repo) DeleteFilesBySession(ctx context.Context, sessionID string) error {
	return r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Delete(&UploadedFile{}).Error
}

// Cleanup job CRUD

func (r *Repo) CreateCleanupJob(ctx context.Context, job *CleanupJob) error {
	return r.db.WithContext(ctx).Create(job).Error
}

func (r *Repo) GetCleanupJob(ctx context.Context, id string) (*CleanupJob, error) {
	var j CleanupJob
	if err := r.db.WithContext(ctx).First(&j, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &j, nil
}

func (r *Repo) MarkCleanupJobRunning(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Model(&CleanupJob{}).
		Where("id = ? AND status = ?", id, JobQueued).
		Update("status", JobRunning).Error
}

func (r *Repo) MarkCleanupJobSucceeded(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Model(&CleanupJob{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status": JobSucceeded,
			"error":  nil,
		}).Error
}

func (r *Repo) MarkCleanupJobFailed(ctx context.Context, id string, errMsg string) error {
	return r.db.WithContext(ctx).Model(&CleanupJob{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status": JobFailed,
			"error":  errMsg,
		}).Error
}
