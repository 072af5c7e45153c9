package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/labstack/echo/v4"

	"github.com/Rajankarna/VIDInsight/internal/media"
	"github.com/Rajankarna/VIDInsight/internal/pipeline"
	"github.com/Rajankarna/VIDInsight/internal/store"
)

type fakeProcessor struct {
	sessionID  string
	processErr error
	askErr     error
	deleteErr  error
	sources    []pipeline.Source
	asked      []string
	deleted    []string
}

func (f *fakeProcessor) Process(ctx context.Context, userID int64, src pipeline.Source) (string, error) {
	f.sources = append(f.sources, src)
	if f.processErr != nil {
		return "", f.processErr
	}
	return f.sessionID, nil
}

func (f *fakeProcessor) Ask(ctx context.Context, sess store.Session, question string) (store.Conversation, error) {
	f.asked = append(f.asked, question)
	if f.askErr != nil {
		return store.Conversation{}, f.askErr
	}
	return store.Conversation{ID: 1, SessionID: sess.ID, Question: question, Answer: "because"}, nil
}

func (f *fakeProcessor) Delete(ctx context.Context, sess store.Session) error {
	f.deleted = append(f.deleted, sess.ID)
	return f.deleteErr
}

func newVideosTest(t *testing.T) (*VideosHandler, *fakeProcessor, sqlmock.Sqlmock, *echo.Echo) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	pipe := &fakeProcessor{sessionID: "sess-1"}
	return &VideosHandler{Store: &store.Store{DB: db}, Pipe: pipe}, pipe, mock, echo.New()
}

func expectSession(mock sqlmock.Sqlmock, id string, userID int64) {
	mock.ExpectQuery(`SELECT id, user_id, title, is_remote, video_path, remote_id, transcript, reference_transcript, language, summary, created_at\s+FROM sessions WHERE id=\$1`).
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "user_id", "title", "is_remote", "video_path", "remote_id",
			"transcript", "reference_transcript", "language", "summary", "created_at",
		}).AddRow(id, userID, "Talk", true, "/media/v.mp4", "abc123",
			"[0:00:00 - 0:00:05] Hi.", "[0:00:00 - 0:00:05] Hi.", "english", "a talk", time.Now()))
}

func TestProcessRemoteURL(t *testing.T) {
	handler, pipe, _, e := newVideosTest(t)

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	_ = w.WriteField("youtube_url", "https://youtu.be/abc123")
	w.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/videos", &body)
	req.Header.Set(echo.HeaderContentType, w.FormDataContentType())
	rec := httptest.NewRecorder()
	ctx := e.NewContext(req, rec)
	ctx.Set("user_id", int64(7))

	if err := handler.process(ctx); err != nil {
		t.Fatalf("process: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected status 201 got %d", rec.Code)
	}
	var resp ProcessResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.SessionID != "sess-1" {
		t.Fatalf("session_id = %q", resp.SessionID)
	}
	if len(pipe.sources) != 1 || pipe.sources[0].URL != "https://youtu.be/abc123" {
		t.Fatalf("unexpected sources: %+v", pipe.sources)
	}
}

func TestProcessUploadForwardsFile(t *testing.T) {
	handler, pipe, _, e := newVideosTest(t)

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	fw, _ := w.CreateFormFile("video", "clip.mp4")
	_, _ = fw.Write([]byte("not-really-mp4"))
	_ = w.WriteField("title", "My Clip")
	w.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/videos", &body)
	req.Header.Set(echo.HeaderContentType, w.FormDataContentType())
	rec := httptest.NewRecorder()
	ctx := e.NewContext(req, rec)
	ctx.Set("user_id", int64(7))

	if err := handler.process(ctx); err != nil {
		t.Fatalf("process: %v", err)
	}
	src := pipe.sources[0]
	if src.Filename != "clip.mp4" || src.Title != "My Clip" || src.Upload == nil {
		t.Fatalf("unexpected source: %+v", src)
	}
}

func TestProcessNoInputIsBadRequest(t *testing.T) {
	handler, pipe, _, e := newVideosTest(t)
	pipe.processErr = media.ErrNoInput

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	w.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/videos", &body)
	req.Header.Set(echo.HeaderContentType, w.FormDataContentType())
	rec := httptest.NewRecorder()
	ctx := e.NewContext(req, rec)
	ctx.Set("user_id", int64(7))

	err := handler.process(ctx)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 error, got %#v", err)
	}
}

func TestProcessSourceUnavailable(t *testing.T) {
	handler, pipe, _, e := newVideosTest(t)
	pipe.processErr = media.ErrSourceUnavailable

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	_ = w.WriteField("youtube_url", "https://youtu.be/gone")
	w.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/videos", &body)
	req.Header.Set(echo.HeaderContentType, w.FormDataContentType())
	rec := httptest.NewRecorder()
	ctx := e.NewContext(req, rec)
	ctx.Set("user_id", int64(7))

	err := handler.process(ctx)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 error, got %#v", err)
	}
}

func TestProcessErrorBodyCarriesOnlyCategoryMessage(t *testing.T) {
	handler, pipe, _, e := newVideosTest(t)
	pipe.processErr = fmt.Errorf("%w: yt-dlp: exit status 1\nstderr: open /data/uploads/cookies_9f2.txt: permission denied",
		media.ErrFetchFailed)

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	_ = w.WriteField("youtube_url", "https://youtu.be/abc123")
	w.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/videos", &body)
	req.Header.Set(echo.HeaderContentType, w.FormDataContentType())
	rec := httptest.NewRecorder()
	ctx := e.NewContext(req, rec)
	ctx.Set("user_id", int64(7))

	err := handler.process(ctx)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 error, got %#v", err)
	}
	msg := fmt.Sprint(httpErr.Message)
	if msg != media.ErrFetchFailed.Error() {
		t.Fatalf("message = %q, want the bare category message", msg)
	}
	for _, leak := range []string{"stderr", "/data/uploads", "cookies_"} {
		if strings.Contains(msg, leak) {
			t.Fatalf("internal detail %q leaked into client message %q", leak, msg)
		}
	}
}

func TestProcessUnknownErrorIsOpaque(t *testing.T) {
	handler, pipe, _, e := newVideosTest(t)
	pipe.processErr = errors.New("pq: connection refused host=10.0.0.5")

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	_ = w.WriteField("youtube_url", "https://youtu.be/abc123")
	w.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/videos", &body)
	req.Header.Set(echo.HeaderContentType, w.FormDataContentType())
	rec := httptest.NewRecorder()
	ctx := e.NewContext(req, rec)
	ctx.Set("user_id", int64(7))

	err := handler.process(ctx)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 error, got %#v", err)
	}
	if msg := fmt.Sprint(httpErr.Message); msg != "processing failed" {
		t.Fatalf("message = %q, want generic failure text", msg)
	}
}

func TestResultsIncludesConversationsAndEmbedURL(t *testing.T) {
	handler, _, mock, e := newVideosTest(t)

	expectSession(mock, "sess-1", 7)
	mock.ExpectQuery(`SELECT id, session_id, question, answer, created_at\s+FROM conversations WHERE session_id=\$1`).
		WithArgs("sess-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "session_id", "question", "answer", "created_at"}).
			AddRow(int64(1), "sess-1", "why?", "because", time.Now()))

	req := httptest.NewRequest(http.MethodGet, "/api/videos/sess-1", nil)
	rec := httptest.NewRecorder()
	ctx := e.NewContext(req, rec)
	ctx.Set("user_id", int64(7))
	ctx.SetParamNames("id")
	ctx.SetParamValues("sess-1")

	if err := handler.results(ctx); err != nil {
		t.Fatalf("results: %v", err)
	}
	var resp SessionResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.VideoURL != "https://www.youtube.com/embed/abc123" {
		t.Fatalf("video_url = %q", resp.VideoURL)
	}
	if len(resp.Conversations) != 1 || resp.Conversations[0].Answer != "because" {
		t.Fatalf("conversations = %+v", resp.Conversations)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestResultsForbiddenForOtherUser(t *testing.T) {
	handler, _, mock, e := newVideosTest(t)

	expectSession(mock, "sess-1", 7)
	mock.ExpectQuery(`SELECT is_admin FROM users WHERE id=\$1`).
		WithArgs(int64(99)).
		WillReturnRows(sqlmock.NewRows([]string{"is_admin"}).AddRow(false))

	req := httptest.NewRequest(http.MethodGet, "/api/videos/sess-1", nil)
	rec := httptest.NewRecorder()
	ctx := e.NewContext(req, rec)
	ctx.Set("user_id", int64(99))
	ctx.SetParamNames("id")
	ctx.SetParamValues("sess-1")

	err := handler.results(ctx)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusForbidden {
		t.Fatalf("expected 403 error, got %#v", err)
	}
}

func TestResultsAdminCanReadAnySession(t *testing.T) {
	handler, _, mock, e := newVideosTest(t)

	expectSession(mock, "sess-1", 7)
	mock.ExpectQuery(`SELECT is_admin FROM users WHERE id=\$1`).
		WithArgs(int64(99)).
		WillReturnRows(sqlmock.NewRows([]string{"is_admin"}).AddRow(true))
	mock.ExpectQuery(`SELECT id, session_id, question, answer, created_at`).
		WithArgs("sess-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "session_id", "question", "answer", "created_at"}))

	req := httptest.NewRequest(http.MethodGet, "/api/videos/sess-1", nil)
	rec := httptest.NewRecorder()
	ctx := e.NewContext(req, rec)
	ctx.Set("user_id", int64(99))
	ctx.SetParamNames("id")
	ctx.SetParamValues("sess-1")

	if err := handler.results(ctx); err != nil {
		t.Fatalf("results: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200 got %d", rec.Code)
	}
}

func TestResultsUnknownSession(t *testing.T) {
	handler, _, mock, e := newVideosTest(t)

	mock.ExpectQuery(`SELECT id, user_id, title`).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	req := httptest.NewRequest(http.MethodGet, "/api/videos/missing", nil)
	rec := httptest.NewRecorder()
	ctx := e.NewContext(req, rec)
	ctx.Set("user_id", int64(7))
	ctx.SetParamNames("id")
	ctx.SetParamValues("missing")

	err := handler.results(ctx)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 error, got %#v", err)
	}
}

func TestAskAppendsConversation(t *testing.T) {
	handler, pipe, mock, e := newVideosTest(t)

	expectSession(mock, "sess-1", 7)

	req := httptest.NewRequest(http.MethodPost, "/api/videos/sess-1/ask",
		strings.NewReader(`{"question":"why?"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	ctx := e.NewContext(req, rec)
	ctx.Set("user_id", int64(7))
	ctx.SetParamNames("id")
	ctx.SetParamValues("sess-1")

	if err := handler.ask(ctx); err != nil {
		t.Fatalf("ask: %v", err)
	}
	var resp ConversationResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Answer != "because" {
		t.Fatalf("answer = %q", resp.Answer)
	}
	if len(pipe.asked) != 1 || pipe.asked[0] != "why?" {
		t.Fatalf("asked = %v", pipe.asked)
	}
}

func TestAskEmptyQuestion(t *testing.T) {
	handler, _, mock, e := newVideosTest(t)

	expectSession(mock, "sess-1", 7)

	req := httptest.NewRequest(http.MethodPost, "/api/videos/sess-1/ask", strings.NewReader(`{}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	ctx := e.NewContext(req, rec)
	ctx.Set("user_id", int64(7))
	ctx.SetParamNames("id")
	ctx.SetParamValues("sess-1")

	err := handler.ask(ctx)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 error, got %#v", err)
	}
}

func TestHistoryMapsUploadURLs(t *testing.T) {
	handler, _, mock, e := newVideosTest(t)

	mock.ExpectQuery(`SELECT s.id, s.title, s.is_remote, s.remote_id, s.video_path, s.created_at, COUNT\(c.id\)`).
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "title", "is_remote", "remote_id", "video_path", "created_at", "count"}).
			AddRow("sess-2", "clip", false, "", "/media/7_clip.mp4", time.Now(), int64(3)).
			AddRow("sess-1", "Talk", true, "abc123", "/media/fetched.mp4", time.Now(), int64(0)))

	req := httptest.NewRequest(http.MethodGet, "/api/videos", nil)
	rec := httptest.NewRecorder()
	ctx := e.NewContext(req, rec)
	ctx.Set("user_id", int64(7))

	if err := handler.history(ctx); err != nil {
		t.Fatalf("history: %v", err)
	}
	var items []HistoryItem
	if err := json.Unmarshal(rec.Body.Bytes(), &items); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("items = %d, want 2", len(items))
	}
	if items[0].VideoURL != "/uploads/7_clip.mp4" || items[0].Turns != 3 {
		t.Fatalf("unexpected upload item: %+v", items[0])
	}
	if items[1].VideoURL != "https://www.youtube.com/embed/abc123" {
		t.Fatalf("unexpected remote item: %+v", items[1])
	}
}

func TestTranscriptDownloadHeaders(t *testing.T) {
	handler, _, mock, e := newVideosTest(t)

	expectSession(mock, "sess-1", 7)

	req := httptest.NewRequest(http.MethodGet, "/api/videos/sess-1/transcript", nil)
	rec := httptest.NewRecorder()
	ctx := e.NewContext(req, rec)
	ctx.Set("user_id", int64(7))
	ctx.SetParamNames("id")
	ctx.SetParamValues("sess-1")

	if err := handler.transcript(ctx); err != nil {
		t.Fatalf("transcript: %v", err)
	}
	if got := rec.Header().Get(echo.HeaderContentDisposition); !strings.Contains(got, "transcript_sess-1.txt") {
		t.Fatalf("content disposition = %q", got)
	}
	if body := rec.Body.String(); body != "[0:00:00 - 0:00:05] Hi." {
		t.Fatalf("body = %q", body)
	}
}

func TestRemoveDelegatesToPipeline(t *testing.T) {
	handler, pipe, mock, e := newVideosTest(t)

	expectSession(mock, "sess-1", 7)

	req := httptest.NewRequest(http.MethodDelete, "/api/videos/sess-1", nil)
	rec := httptest.NewRecorder()
	ctx := e.NewContext(req, rec)
	ctx.Set("user_id", int64(7))
	ctx.SetParamNames("id")
	ctx.SetParamValues("sess-1")

	if err := handler.remove(ctx); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected status 204 got %d", rec.Code)
	}
	if len(pipe.deleted) != 1 || pipe.deleted[0] != "sess-1" {
		t.Fatalf("deleted = %v", pipe.deleted)
	}
}
