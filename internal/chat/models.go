package chat

import "time"

// Session groups uploaded files and conversation turns under an opaque,
// client-generated identifier. Possession of the identifier grants full
// read/write access to the session's data; there is no further
// authentication. That is a documented limitation of this design, not an
// oversight.
type Session struct {
	ID           uint64    `gorm:"primaryKey;autoIncrement" json:"-"`
	SessionID    string    `gorm:"type:varchar(64);uniqueIndex;not null" json:"session_id"`
	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity"`
}

func (Session) TableName() string { return "sessions" }

type UploadedFile struct {
	ID           string    `gorm:"primaryKey;type:varchar(36)" json:"id"`
	SessionID    string    `gorm:"type:varchar(64);index;not null" json:"session_id"`
	Filename     string    `gorm:"type:varchar(128);not null" json:"filename"`
	OriginalName string    `gorm:"type:varchar(256);not null" json:"original_name"`
	FilePath     string    `gorm:"type:varchar(512)" json:"file_path"`
	FileSize     int64     `json:"file_size"`
	MimeType     string    `gorm:"type:varchar(128)" json:"mime_type"`
	StoragePath  string    `gorm:"type:varchar(512);not null" json:"storage_path"`
	UploadedAt   time.Time `gorm:"autoCreateTime" json:"uploaded_at"`
}

func (UploadedFile) TableName() string { return "uploaded_files" }

// Conversation is one turn, append-only, ordered by creation time.
type Conversation struct {
	ID        uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	SessionID string    `gorm:"type:varchar(64);index;not null" json:"session_id"`
	Role      string    `gorm:"type:varchar(16);not null" json:"role"`
	Content   string    `gorm:"type:text;not null" json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

func (Conversation) TableName() string { return "conversations" }

// FileContent is the ephemeral decoded form of an uploaded file, derived on
// demand and never persisted.
type FileContent struct {
	Filename string `json:"filename"`
	Content  string `json:"content"`
	Path     string `json:"path"`
}

// Upload carries one incoming file's bytes from the HTTP layer.
type Upload struct {
	OriginalName string
	ContentType  string
	Size         int64
	Data         []byte
}

// SkippedFile records a file dropped during batch processing together with
// the reason, so callers can log the whole batch outcome at once.
type SkippedFile struct {
	Name   string
	Reason error
}
