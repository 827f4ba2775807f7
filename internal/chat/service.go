package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/codechat-app/backend/internal/ai"
	"github.com/codechat-app/backend/internal/logger"
)

// Validation failures. These happen before any stream is opened, so the HTTP
// layer turns them into plain 400 responses.
var (
	ErrMessageRequired   = errors.New("Message is required")
	ErrAPIKeyRequired    = errors.New("API key is required")
	ErrSessionIDRequired = errors.New("Session ID is required")
)

// Past this many estimated prompt tokens a warning is logged. The prompt is
// never truncated; oversized contexts fail at the provider.
const promptTokenWarnThreshold = 100_000

// Assembler gathers file contents for a request: fresh uploads, or the
// session's previously stored files. Implemented by the files service.
type Assembler interface {
	// ProcessUploads stores each upload and returns the decoded contents in
	// upload order. Per-file failures are folded into the skipped list and
	// never abort the batch.
	ProcessUploads(ctx context.Context, sessionID string, uploads []Upload) ([]FileContent, []SkippedFile)

	// LoadSessionFiles returns the contents of the session's stored files,
	// most recently uploaded first. Per-file read/decode failures are folded
	// into the skipped list; only listing the metadata can fail outright.
	LoadSessionFiles(ctx context.Context, sessionID string) ([]FileContent, []SkippedFile, error)
}

type StreamRequest struct {
	SessionID        string
	Message          string
	APIKey           string
	UseExistingFiles bool
	Uploads          []Upload
}

// Service drives one chat request end to end: session upsert, file handling,
// prompt assembly, streaming generation, transcript persistence.
type Service struct {
	repo     *Repo
	asm      Assembler
	registry *ai.Registry
	provider string
	model    string
	log      *logger.Logger
}

func NewService(repo *Repo, asm Assembler, registry *ai.Registry, provider, model string, log *logger.Logger) *Service {
	if provider == "" {
		provider = "gemini"
	}
	return &Service{
		repo:     repo,
		asm:      asm,
		registry: registry,
		provider: provider,
		model:    model,
		log:      log,
	}
}

// Stream validates the request and, if valid, starts the orchestration in a
// goroutine, returning the event channel. A validation error means no stream
// was opened. Once the channel is returned, every failure becomes a terminal
// error event; exactly one terminal event is emitted and then the channel
// closes.
func (s *Service) Stream(ctx context.Context, req StreamRequest) (<-chan Event, error) {
	switch {
	case strings.TrimSpace(req.Message) == "":
		return nil, ErrMessageRequired
	case strings.TrimSpace(req.APIKey) == "":
		return nil, ErrAPIKeyRequired
	case strings.TrimSpace(req.SessionID) == "":
		return nil, ErrSessionIDRequired
	}

	events := make(chan Event, 16)
	go s.run(ctx, req, events)
	return events, nil
}

func (s *Service) run(ctx context.Context, req StreamRequest, events chan<- Event) {
	defer close(events)

	emit := func(ev Event) bool {
		select {
		case events <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}
	fail := func(err error) {
		s.log.Error("chat stream failed", "session_id", req.SessionID, "err", err)
		emit(Event{Type: EventError, Message: err.Error()})
	}

	if _, err := s.repo.EnsureSession(ctx, req.SessionID); err != nil {
		fail(fmt.Errorf("ensure session: %w", err))
		return
	}

	if !emit(statusEvent("Processing your request...")) {
		return
	}

	// New uploads take priority: when files arrive with this request, the
	// session's stored files are not also loaded.
	var contents []FileContent
	switch {
	case len(req.Uploads) > 0:
		if !emit(statusEvent(fmt.Sprintf("Uploading %d file(s) to storage...", len(req.Uploads)))) {
			return
		}
		var skipped []SkippedFile
		contents, skipped = s.asm.ProcessUploads(ctx, req.SessionID, req.Uploads)
		s.logSkipped(req.SessionID, skipped)
		if !emit(statusEvent(fmt.Sprintf("Successfully uploaded %d file(s)", len(contents)))) {
			return
		}

	case req.UseExistingFiles:
		if !emit(statusEvent("Loading previously uploaded files...")) {
			return
		}
		var skipped []SkippedFile
		var err error
		contents, skipped, err = s.asm.LoadSessionFiles(ctx, req.SessionID)
		if err != nil {
			fail(fmt.Errorf("load session files: %w", err))
			return
		}
		s.logSkipped(req.SessionID, skipped)
		if !emit(statusEvent(fmt.Sprintf("Loaded %d file(s) from your session", len(contents)))) {
			return
		}
	}

	// History is fetched before the user turn is written, so it holds only
	// prior turns and ends on an assistant turn (or is empty).
	history, err := s.repo.ListConversation(ctx, req.SessionID)
	if err != nil {
		fail(fmt.Errorf("load conversation history: %w", err))
		return
	}

	if err := s.repo.InsertConversation(ctx, &Conversation{
		SessionID: req.SessionID,
		Role:      ai.RoleUser,
		Content:   req.Message,
	}); err != nil {
		fail(fmt.Errorf("save user message: %w", err))
		return
	}

	prompt := BuildContextPrompt(req.Message, contents)
	if n := EstimateTokens(prompt); n > promptTokenWarnThreshold {
		s.log.Warn("prompt exceeds token budget",
			"session_id", req.SessionID, "tokens", n, "files", len(contents))
	} else {
		s.log.Debug("prompt built",
			"session_id", req.SessionID, "tokens", n, "files", len(contents))
	}

	if !emit(statusEvent("Analyzing code and generating response...")) {
		return
	}

	provider, err := s.registry.Get(ctx, s.provider, req.APIKey, s.model)
	if err != nil {
		fail(err)
		return
	}
	sp, ok := provider.(ai.StreamProvider)
	if !ok {
		fail(fmt.Errorf("provider %s does not support streaming", s.provider))
		return
	}

	msgs := make([]ai.Message, 0, len(history)+1)
	for _, h := range history {
		msgs = append(msgs, ai.Message{Role: h.Role, Content: h.Content})
	}
	msgs = append(msgs, ai.Message{Role: ai.RoleUser, Content: prompt})

	chunks, errs := sp.StreamChat(ctx, msgs)

	var full strings.Builder
	for c := range chunks {
		full.WriteString(c)
		if !emit(Event{Type: EventChunk, Content: c}) {
			return
		}
	}

	// Chunks already relayed stay with the client; a provider failure only
	// suppresses the done event and the assistant turn.
	select {
	case err := <-errs:
		if err != nil {
			fail(err)
			return
		}
	default:
	}

	reply := full.String()

	if err := s.repo.InsertConversation(ctx, &Conversation{
		SessionID: req.SessionID,
		Role:      ai.RoleAssistant,
		Content:   reply,
	}); err != nil {
		fail(fmt.Errorf("save assistant message: %w", err))
		return
	}

	emit(Event{Type: EventDone, FullResponse: reply})
}

func (s *Service) logSkipped(sessionID string, skipped []SkippedFile) {
	for _, sk := range skipped {
		s.log.Warn("file skipped",
			"session_id", sessionID, "file", sk.Name, "reason", sk.Reason)
	}
}

// History returns all of a session's turns in creation order.
func (s *Service) History(ctx context.Context, sessionID string) ([]Conversation, error) {
	return s.repo.ListConversation(ctx, sessionID)
}
