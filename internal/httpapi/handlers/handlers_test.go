package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	gormsqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/codechat-app/backend/internal/ai"
	"github.com/codechat-app/backend/internal/chat"
	"github.com/codechat-app/backend/internal/files"
	"github.com/codechat-app/backend/internal/httpapi"
	"github.com/codechat-app/backend/internal/httpapi/handlers"
	"github.com/codechat-app/backend/internal/logger"
	"github.com/codechat-app/backend/internal/storage"
)

type fakeProvider struct {
	chunks []string
	err    error
}

func (p *fakeProvider) Chat(ctx context.Context, messages []ai.Message) (string, error) {
	_ = ctx
	_ = messages
	if p.err != nil {
		return "", p.err
	}
	return strings.Join(p.chunks, ""), nil
}

func (p *fakeProvider) StreamChat(ctx context.Context, messages []ai.Message) (<-chan string, <-chan error) {
	_ = messages
	chunks := make(chan string, len(p.chunks))
	errs := make(chan error, 1)
	go func() {
		defer close(chunks)
		defer close(errs)
		for _, c := range p.chunks {
			select {
			case chunks <- c:
			case <-ctx.Done():
				errs <- ctx.Err()
				return
			}
		}
		if p.err != nil {
			errs <- p.err
		}
	}()
	return chunks, errs
}

type fakePublisher struct {
	jobIDs []string
	err    error
}

func (p *fakePublisher) PublishCleanup(ctx context.Context, jobID string) error {
	_ = ctx
	if p.err != nil {
		return p.err
	}
	p.jobIDs = append(p.jobIDs, jobID)
	return nil
}

type testEnv struct {
	router  *gin.Engine
	db      *gorm.DB
	store   *storage.MemoryStore
	files   *files.Service
	handler *handlers.Handler
}

func newTestEnv(t *testing.T, prov ai.Provider, jobs handlers.CleanupPublisher) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(gormsqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&chat.Session{}, &chat.UploadedFile{}, &chat.Conversation{}, &chat.CleanupJob{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}

	log := logger.NewNop()
	store := storage.NewMemoryStore()
	repo := chat.NewRepo(db)
	fileSvc := files.NewService(repo, store, nil, log)

	registry := ai.NewRegistry()
	registry.Register("fake", func(ctx context.Context, apiKey, model string) (ai.Provider, error) {
		_ = ctx
		_ = apiKey
		_ = model
		return prov, nil
	})
	chatSvc := chat.NewService(repo, fileSvc, registry, "fake", "", log)

	h := &handlers.Handler{
		Log:     log,
		DB:      db,
		Storage: store,
		Jobs:    jobs,
		Repo:    repo,
		Files:   fileSvc,
		ChatSvc: chatSvc,
	}
	return &testEnv{
		router:  httpapi.NewRouter(h, "http://localhost:3000", log),
		db:      db,
		store:   store,
		files:   fileSvc,
		handler: h,
	}
}

type formFile struct {
	name    string
	content string
}

func multipartBody(t *testing.T, fields map[string]string, uploads []formFile) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			t.Fatalf("write field %s: %v", k, err)
		}
	}
	for _, f := range uploads {
		fw, err := w.CreateFormFile("files", f.name)
		if err != nil {
			t.Fatalf("create form file %s: %v", f.name, err)
		}
		if _, err := fw.Write([]byte(f.content)); err != nil {
			t.Fatalf("write form file %s: %v", f.name, err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	return &buf, w.FormDataContentType()
}

func parseSSE(t *testing.T, body string) []map[string]any {
	t.Helper()
	var events []map[string]any
	for _, line := range strings.Split(body, "\n") {
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var ev map[string]any
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev); err != nil {
			t.Fatalf("bad event line %q: %v", line, err)
		}
		events = append(events, ev)
	}
	return events
}

func TestSendChatMessage_StreamsSSE(t *testing.T) {
	env := newTestEnv(t, &fakeProvider{chunks: []string{"The function ", "adds numbers."}}, nil)

	body, contentType := multipartBody(t, map[string]string{
		"message":   "What does add() do?",
		"apiKey":    "test-key",
		"sessionId": "http-sse",
	}, []formFile{{name: "math.go", content: "func add(a, b int) int { return a + b }"}})

	req := httptest.NewRequest(http.MethodPost, "/chat/message", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status %d, body %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		t.Fatalf("unexpected content type %q", ct)
	}

	events := parseSSE(t, rec.Body.String())
	if len(events) == 0 {
		t.Fatalf("no events in body: %s", rec.Body.String())
	}
	if events[0]["type"] != "status" {
		t.Fatalf("first event must be a status, got %+v", events[0])
	}

	var chunkConcat, fullResponse string
	terminals := 0
	for _, ev := range events {
		switch ev["type"] {
		case "chunk":
			chunkConcat += ev["content"].(string)
		case "done":
			terminals++
			fullResponse = ev["fullResponse"].(string)
		case "error":
			terminals++
		}
	}
	if terminals != 1 {
		t.Fatalf("expected one terminal event, got %d", terminals)
	}
	if last := events[len(events)-1]; last["type"] != "done" {
		t.Fatalf("expected done last, got %+v", last)
	}
	if chunkConcat != "The function adds numbers." || fullResponse != chunkConcat {
		t.Fatalf("chunks %q vs fullResponse %q", chunkConcat, fullResponse)
	}

	var turns int64
	if err := env.db.Model(&chat.Conversation{}).Where("session_id = ?", "http-sse").Count(&turns).Error; err != nil {
		t.Fatalf("count turns: %v", err)
	}
	if turns != 2 {
		t.Fatalf("expected user+assistant turns persisted, got %d", turns)
	}
	if keys, err := env.store.List(context.Background(), "http-sse/"); err != nil || len(keys) != 1 {
		t.Fatalf("expected the upload blob to be stored, got %v (%v)", keys, err)
	}
}

func TestSendChatMessage_ValidationRejections(t *testing.T) {
	env := newTestEnv(t, &fakeProvider{chunks: []string{"ok"}}, nil)

	manyFiles := make([]formFile, files.MaxFilesPerRequest+1)
	for i := range manyFiles {
		manyFiles[i] = formFile{name: fmt.Sprintf("f%d.go", i), content: "package x"}
	}

	cases := []struct {
		name    string
		fields  map[string]string
		uploads []formFile
		wantErr string
	}{
		{
			name:    "missing message",
			fields:  map[string]string{"apiKey": "k", "sessionId": "s"},
			wantErr: "Message is required",
		},
		{
			name:    "missing api key",
			fields:  map[string]string{"message": "m", "sessionId": "s"},
			wantErr: "API key is required",
		},
		{
			name:    "missing session id",
			fields:  map[string]string{"message": "m", "apiKey": "k"},
			wantErr: "Session ID is required",
		},
		{
			name:    "unsupported extension",
			fields:  map[string]string{"message": "m", "apiKey": "k", "sessionId": "s"},
			uploads: []formFile{{name: "photo.png", content: "xx"}},
			wantErr: "not supported",
		},
		{
			name:    "too many files",
			fields:  map[string]string{"message": "m", "apiKey": "k", "sessionId": "s"},
			uploads: manyFiles,
			wantErr: "Too many files",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			body, contentType := multipartBody(t, tc.fields, tc.uploads)
			req := httptest.NewRequest(http.MethodPost, "/chat/message", body)
			req.Header.Set("Content-Type", contentType)
			rec := httptest.NewRecorder()
			env.router.ServeHTTP(rec, req)

			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status %d, body %s", rec.Code, rec.Body.String())
			}
			var resp map[string]string
			if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
				t.Fatalf("bad error body %q: %v", rec.Body.String(), err)
			}
			if !strings.Contains(resp["error"], tc.wantErr) {
				t.Fatalf("error %q does not mention %q", resp["error"], tc.wantErr)
			}
		})
	}

	var turns int64
	if err := env.db.Model(&chat.Conversation{}).Where("session_id = ?", "s").Count(&turns).Error; err != nil {
		t.Fatalf("count turns: %v", err)
	}
	if turns != 0 {
		t.Fatalf("rejected requests must not persist turns, got %d", turns)
	}
}

func TestSendChatMessage_OversizeFileRejected(t *testing.T) {
	env := newTestEnv(t, &fakeProvider{chunks: []string{"ok"}}, nil)

	body, contentType := multipartBody(t, map[string]string{
		"message": "m", "apiKey": "k", "sessionId": "s",
	}, []formFile{{name: "huge.txt", content: strings.Repeat("a", files.MaxFileSize+1)}})

	req := httptest.NewRequest(http.MethodPost, "/chat/message", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status %d, body %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "exceeds") {
		t.Fatalf("expected a size error, got %s", rec.Body.String())
	}
}

func TestSendChatMessage_ProviderFailureEndsInError(t *testing.T) {
	env := newTestEnv(t, &fakeProvider{chunks: []string{"part"}, err: fmt.Errorf("invalid api key")}, nil)

	body, contentType := multipartBody(t, map[string]string{
		"message": "m", "apiKey": "bad", "sessionId": "http-err",
	}, nil)
	req := httptest.NewRequest(http.MethodPost, "/chat/message", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("stream already open, status must stay 200, got %d", rec.Code)
	}
	events := parseSSE(t, rec.Body.String())
	last := events[len(events)-1]
	if last["type"] != "error" || !strings.Contains(last["message"].(string), "invalid api key") {
		t.Fatalf("expected terminal error event, got %+v", last)
	}
}

func TestGetChatHistory(t *testing.T) {
	env := newTestEnv(t, &fakeProvider{}, nil)
	ctx := context.Background()
	repo := chat.NewRepo(env.db)
	for _, turn := range []chat.Conversation{
		{SessionID: "http-hist", Role: "user", Content: "q"},
		{SessionID: "http-hist", Role: "assistant", Content: "a"},
	} {
		turn := turn
		if err := repo.InsertConversation(ctx, &turn); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	req := httptest.NewRequest(http.MethodGet, "/chat/history/http-hist", nil)
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status %d, body %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Success bool                `json:"success"`
		History []chat.Conversation `json:"history"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("bad body %q: %v", rec.Body.String(), err)
	}
	if !resp.Success || len(resp.History) != 2 {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if resp.History[0].Content != "q" || resp.History[1].Content != "a" {
		t.Fatalf("history out of order: %+v", resp.History)
	}
}

func TestListAndDeleteFile(t *testing.T) {
	env := newTestEnv(t, &fakeProvider{}, nil)
	ctx := context.Background()

	row, err := env.files.Upload(ctx, "http-files", chat.Upload{
		OriginalName: "a.go", ContentType: "text/x-go", Size: 9, Data: []byte("package a"),
	})
	if err != nil {
		t.Fatalf("upload: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/files/http-files", nil)
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("list status %d, body %s", rec.Code, rec.Body.String())
	}
	var listResp struct {
		Success bool                `json:"success"`
		Count   int                 `json:"count"`
		Files   []chat.UploadedFile `json:"files"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &listResp); err != nil {
		t.Fatalf("bad list body %q: %v", rec.Body.String(), err)
	}
	if !listResp.Success || listResp.Count != 1 || listResp.Files[0].ID != row.ID {
		t.Fatalf("unexpected list response: %+v", listResp)
	}

	req = httptest.NewRequest(http.MethodDelete, "/files/"+row.ID, nil)
	rec = httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("delete status %d, body %s", rec.Code, rec.Body.String())
	}

	req = httptest.NewRequest(http.MethodDelete, "/files/"+row.ID, nil)
	rec = httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("second delete should 404, got %d", rec.Code)
	}
}

func TestClearSession_Inline(t *testing.T) {
	env := newTestEnv(t, &fakeProvider{}, nil)
	ctx := context.Background()
	repo := chat.NewRepo(env.db)
	if _, err := repo.EnsureSession(ctx, "http-clear"); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if _, err := env.files.Upload(ctx, "http-clear", chat.Upload{
		OriginalName: "a.go", ContentType: "text/x-go", Size: 9, Data: []byte("package a"),
	}); err != nil {
		t.Fatalf("upload: %v", err)
	}

	req := httptest.NewRequest(http.MethodDelete, "/chat/session/http-clear", nil)
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status %d, body %s", rec.Code, rec.Body.String())
	}
	var count int64
	if err := env.db.Model(&chat.Session{}).Where("session_id = ?", "http-clear").Count(&count).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 0 {
		t.Fatalf("session row should be gone")
	}
	if keys, _ := env.store.List(ctx, "http-clear/"); len(keys) != 0 {
		t.Fatalf("blobs should be gone, got %v", keys)
	}
}

func TestClearSession_Enqueued(t *testing.T) {
	pub := &fakePublisher{}
	env := newTestEnv(t, &fakeProvider{}, pub)

	req := httptest.NewRequest(http.MethodDelete, "/chat/session/http-queued", nil)
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status %d, body %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Success bool   `json:"success"`
		JobID   string `json:"job_id"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("bad body %q: %v", rec.Body.String(), err)
	}
	if !resp.Success || resp.JobID == "" {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if len(pub.jobIDs) != 1 || pub.jobIDs[0] != resp.JobID {
		t.Fatalf("published job ids %v do not match response %q", pub.jobIDs, resp.JobID)
	}

	job, err := chat.NewRepo(env.db).GetCleanupJob(context.Background(), resp.JobID)
	if err != nil {
		t.Fatalf("job row missing: %v", err)
	}
	if job.SessionID != "http-queued" || job.Status != chat.JobQueued {
		t.Fatalf("unexpected job row: %+v", job)
	}
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, &fakeProvider{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	var resp map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("bad body %q: %v", rec.Body.String(), err)
	}
	if resp["status"] != "ok" || resp["database"] != "connected" || resp["storage"] != "connected" {
		t.Fatalf("unexpected health payload: %+v", resp)
	}
	if _, ok := resp["redis"]; ok {
		t.Fatalf("redis flag must be absent when no cache is configured")
	}
}
