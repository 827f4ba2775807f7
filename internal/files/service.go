package files

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"unicode/utf8"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/codechat-app/backend/internal/chat"
	"github.com/codechat-app/backend/internal/logger"
	"github.com/codechat-app/backend/internal/storage"
	"github.com/codechat-app/backend/internal/store/redisstore"
)

var errNotText = errors.New("content is not valid UTF-8 text")

// Service owns the blob-facing side of file handling: uploads, content
// loading for the context assembler, deletion, and session cleanup.
// The cache is optional; a nil cache disables it.
type Service struct {
	repo  *chat.Repo
	store storage.Store
	cache *redisstore.Store
	log   *logger.Logger
}

func NewService(repo *chat.Repo, store storage.Store, cache *redisstore.Store, log *logger.Logger) *Service {
	return &Service{repo: repo, store: store, cache: cache, log: log}
}

// ProcessUploads stores each upload and returns decoded contents in upload
// order. One file failing never aborts the rest; failures come back in the
// skipped list with their reason.
func (s *Service) ProcessUploads(ctx context.Context, sessionID string, uploads []chat.Upload) ([]chat.FileContent, []chat.SkippedFile) {
	contents := make([]chat.FileContent, 0, len(uploads))
	var skipped []chat.SkippedFile

	for _, u := range uploads {
		row, err := s.Upload(ctx, sessionID, u)
		if err != nil {
			skipped = append(skipped, chat.SkippedFile{Name: u.OriginalName, Reason: err})
			continue
		}
		text, err := s.readFileContent(ctx, row)
		if err != nil {
			skipped = append(skipped, chat.SkippedFile{Name: u.OriginalName, Reason: err})
			continue
		}
		contents = append(contents, chat.FileContent{
			Filename: row.OriginalName,
			Content:  text,
			Path:     row.FilePath,
		})
	}
	return contents, skipped
}

// Upload writes the blob, then the metadata row. If the row insert fails the
// blob is removed best-effort so storage does not accumulate orphans.
func (s *Service) Upload(ctx context.Context, sessionID string, u chat.Upload) (*chat.UploadedFile, error) {
	fileID := uuid.NewString()
	ext := filepath.Ext(u.OriginalName)
	storedName := fileID + ext
	storagePath := sessionID + "/" + storedName

	if err := s.store.Put(ctx, storagePath, u.Data, u.ContentType); err != nil {
		return nil, fmt.Errorf("upload %q: %w", u.OriginalName, err)
	}

	row := &chat.UploadedFile{
		ID:           fileID,
		SessionID:    sessionID,
		Filename:     storedName,
		OriginalName: u.OriginalName,
		FilePath:     s.store.PublicURL(storagePath),
		FileSize:     u.Size,
		MimeType:     u.ContentType,
		StoragePath:  storagePath,
	}
	if err := s.repo.CreateFile(ctx, row); err != nil {
		if delErr := s.store.Delete(ctx, []string{storagePath}); delErr != nil {
			s.log.Warn("orphan blob left after failed metadata insert",
				"storage_path", storagePath, "err", delErr)
		}
		return nil, fmt.Errorf("save metadata for %q: %w", u.OriginalName, err)
	}
	return row, nil
}

// LoadSessionFiles returns the contents of a session's stored files, most
// recently uploaded first. Per-file fetch/decode failures are skipped.
func (s *Service) LoadSessionFiles(ctx context.Context, sessionID string) ([]chat.FileContent, []chat.SkippedFile, error) {
	rows, err := s.repo.ListFilesBySession(ctx, sessionID)
	if err != nil {
		return nil, nil, fmt.Errorf("list session files: %w", err)
	}

	contents := make([]chat.FileContent, 0, len(rows))
	var skipped []chat.SkippedFile
	for i := range rows {
		row := &rows[i]
		text, err := s.readFileContent(ctx, row)
		if err != nil {
			skipped = append(skipped, chat.SkippedFile{Name: row.OriginalName, Reason: err})
			continue
		}
		contents = append(contents, chat.FileContent{
			Filename: row.OriginalName,
			Content:  text,
			Path:     row.FilePath,
		})
	}
	return contents, skipped, nil
}

// ListFiles returns a session's file metadata, newest first.
func (s *Service) ListFiles(ctx context.Context, sessionID string) ([]chat.UploadedFile, error) {
	return s.repo.ListFilesBySession(ctx, sessionID)
}

// readFileContent fetches a file's bytes and decodes them as UTF-8 text,
// read-through the cache when one is configured.
func (s *Service) readFileContent(ctx context.Context, f *chat.UploadedFile) (string, error) {
	if s.cache != nil {
		if text, err := s.cache.GetFileContent(ctx, f.StoragePath); err == nil {
			return text, nil
		} else if !errors.Is(err, redisstore.ErrMiss) {
			s.log.Warn("content cache read failed", "storage_path", f.StoragePath, "err", err)
		}
	}

	data, err := s.store.Get(ctx, f.StoragePath)
	if err != nil {
		return "", fmt.Errorf("fetch %q: %w", f.OriginalName, err)
	}
	if !utf8.Valid(data) {
		return "", fmt.Errorf("decode %q: %w", f.OriginalName, errNotText)
	}
	text := string(data)

	if s.cache != nil {
		if err := s.cache.SetFileContent(ctx, f.StoragePath, text); err != nil {
			s.log.Warn("content cache write failed", "storage_path", f.StoragePath, "err", err)
		}
	}
	return text, nil
}

// Delete removes a file's blob and then its metadata row. The two deletes
// are not atomic: a blob-delete failure is logged and the row is removed
// anyway, and a row-delete failure leaves a row pointing at a missing blob
// until session cleanup sweeps it.
func (s *Service) Delete(ctx context.Context, fileID string) error {
	row, err := s.repo.GetFileByID(ctx, fileID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		return fmt.Errorf("look up file %s: %w", fileID, err)
	}

	if err := s.store.Delete(ctx, []string{row.StoragePath}); err != nil {
		s.log.Warn("blob delete failed", "storage_path", row.StoragePath, "err", err)
	}
	if s.cache != nil {
		if err := s.cache.DeleteFileContent(ctx, row.StoragePath); err != nil {
			s.log.Warn("content cache invalidation failed", "storage_path", row.StoragePath, "err", err)
		}
	}
	if err := s.repo.DeleteFileByID(ctx, fileID); err != nil {
		return fmt.Errorf("delete metadata for %s: %w", fileID, err)
	}
	return nil
}

// ClearSession removes everything a session owns: blobs (including orphans
// found under the session prefix), file rows, conversation rows and the
// session row. Run by the cleanup worker.
func (s *Service) ClearSession(ctx context.Context, sessionID string) error {
	rows, err := s.repo.ListFilesBySession(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("list session files: %w", err)
	}

	paths := make([]string, 0, len(rows))
	for _, r := range rows {
		paths = append(paths, r.StoragePath)
	}
	// Orphans under the session prefix are swept too.
	if keys, err := s.store.List(ctx, sessionID+"/"); err == nil {
		paths = append(paths, keys...)
	} else {
		s.log.Warn("listing session blobs failed", "session_id", sessionID, "err", err)
	}

	if len(paths) > 0 {
		if err := s.store.Delete(ctx, paths); err != nil {
			return fmt.Errorf("delete session blobs: %w", err)
		}
		if s.cache != nil {
			if err := s.cache.DeleteFileContent(ctx, paths...); err != nil {
				s.log.Warn("content cache invalidation failed", "session_id", sessionID, "err", err)
			}
		}
	}

	if err := s.repo.DeleteFilesBySession(ctx, sessionID); err != nil {
		return fmt.Errorf("delete file rows: %w", err)
	}
	if err := s.repo.DeleteConversationBySession(ctx, sessionID); err != nil {
		return fmt.Errorf("delete conversation rows: %w", err)
	}
	if err := s.repo.DeleteSession(ctx, sessionID); err != nil {
		return fmt.Errorf("delete session row: %w", err)
	}
	return nil
}
