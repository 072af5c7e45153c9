package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"

	"github.com/labstack/echo/v4"

	"github.com/Rajankarna/VIDInsight/internal/llm"
	"github.com/Rajankarna/VIDInsight/internal/media"
	"github.com/Rajankarna/VIDInsight/internal/pipeline"
	"github.com/Rajankarna/VIDInsight/internal/runtime"
	"github.com/Rajankarna/VIDInsight/internal/store"
	"github.com/Rajankarna/VIDInsight/internal/transcribe"
)

// Processor is the pipeline surface the video handlers drive.
type Processor interface {
	Process(ctx context.Context, userID int64, src pipeline.Source) (string, error)
	Ask(ctx context.Context, sess store.Session, question string) (store.Conversation, error)
	Delete(ctx context.Context, sess store.Session) error
}

type VideosHandler struct {
	Store *store.Store
	Pipe  Processor
}

func (h *VideosHandler) Register(g *echo.Group, secret []byte) {
	g.Use(runtime.EchoAuthMiddleware(secret))
	g.POST("", h.process)
	g.GET("", h.history)
	g.GET("/:id", h.results)
	g.POST("/:id/ask", h.ask)
	g.GET("/:id/transcript", h.transcript)
	g.DELETE("/:id", h.remove)
}

// process accepts either an uploaded video file or a remote URL, runs the full
// pipeline and returns the new session id.
func (h *VideosHandler) process(c echo.Context) error {
	userID, ok := runtime.UserID(c)
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "missing user")
	}

	src := pipeline.Source{
		URL:   c.FormValue("youtube_url"),
		Title: c.FormValue("title"),
	}
	if fh, err := c.FormFile("video"); err == nil && src.URL == "" {
		f, err := fh.Open()
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		defer f.Close()
		src.Filename = fh.Filename
		src.Upload = f
	}
	if fh, err := c.FormFile("cookies"); err == nil {
		f, err := fh.Open()
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		cookies, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		src.Cookies = cookies
	}

	id, err := h.Pipe.Process(c.Request().Context(), userID, src)
	if err != nil {
		return pipelineHTTPError(err)
	}
	return c.JSON(http.StatusCreated, ProcessResponse{SessionID: id})
}

func (h *VideosHandler) results(c echo.Context) error {
	sess, err := h.authorizedSession(c)
	if err != nil {
		return err
	}
	turns, err := h.Store.ListConversations(c.Request().Context(), sess.ID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	resp := SessionResponse{
		ID:            sess.ID,
		Title:         sess.Title,
		Summary:       sess.Summary,
		Transcript:    sess.Transcript,
		Language:      sess.Language,
		Remote:        sess.Remote,
		VideoURL:      videoURL(sess.Remote, sess.RemoteID, sess.VideoPath),
		CreatedAt:     sess.CreatedAt,
		Conversations: make([]ConversationResponse, 0, len(turns)),
	}
	for _, t := range turns {
		resp.Conversations = append(resp.Conversations, ConversationResponse{
			ID: t.ID, Question: t.Question, Answer: t.Answer, CreatedAt: t.CreatedAt,
		})
	}
	return c.JSON(http.StatusOK, resp)
}

func (h *VideosHandler) ask(c echo.Context) error {
	sess, err := h.authorizedSession(c)
	if err != nil {
		return err
	}
	var req AskRequest
	if err := c.Bind(&req); err != nil || req.Question == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "question required")
	}
	turn, err := h.Pipe.Ask(c.Request().Context(), sess, req.Question)
	if err != nil {
		return pipelineHTTPError(err)
	}
	return c.JSON(http.StatusOK, ConversationResponse{
		ID: turn.ID, Question: turn.Question, Answer: turn.Answer, CreatedAt: turn.CreatedAt,
	})
}

func (h *VideosHandler) history(c echo.Context) error {
	userID, ok := runtime.UserID(c)
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "missing user")
	}
	rows, err := h.Store.ListSessions(c.Request().Context(), userID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	items := make([]HistoryItem, 0, len(rows))
	for _, r := range rows {
		items = append(items, HistoryItem{
			ID:        r.ID,
			Title:     r.Title,
			Remote:    r.Remote,
			VideoURL:  videoURL(r.Remote, r.RemoteID, r.VideoPath),
			Turns:     r.Turns,
			CreatedAt: r.CreatedAt,
		})
	}
	return c.JSON(http.StatusOK, items)
}

// transcript streams the session transcript as a plain-text download.
func (h *VideosHandler) transcript(c echo.Context) error {
	sess, err := h.authorizedSession(c)
	if err != nil {
		return err
	}
	name := fmt.Sprintf("transcript_%s.txt", sess.ID)
	c.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf(`attachment; filename=%q`, name))
	return c.Blob(http.StatusOK, "text/plain; charset=utf-8", []byte(sess.Transcript))
}

func (h *VideosHandler) remove(c echo.Context) error {
	sess, err := h.authorizedSession(c)
	if err != nil {
		return err
	}
	if err := h.Pipe.Delete(c.Request().Context(), sess); err != nil {
		return pipelineHTTPError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// authorizedSession loads the session named by :id and checks the caller owns
// it or is an admin.
func (h *VideosHandler) authorizedSession(c echo.Context) (store.Session, error) {
	userID, ok := runtime.UserID(c)
	if !ok {
		return store.Session{}, echo.NewHTTPError(http.StatusUnauthorized, "missing user")
	}
	sess, err := h.Store.GetSession(c.Request().Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return store.Session{}, echo.NewHTTPError(http.StatusNotFound, "session not found")
		}
		return store.Session{}, echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if sess.UserID != userID {
		admin, err := h.Store.IsAdmin(c.Request().Context(), userID)
		if err != nil {
			return store.Session{}, echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
		if !admin {
			return store.Session{}, echo.NewHTTPError(http.StatusForbidden, "not your session")
		}
	}
	return sess, nil
}

// videoURL maps a session's media reference to a client-playable URL.
func videoURL(remote bool, remoteID, videoPath string) string {
	if remote && remoteID != "" {
		return "https://www.youtube.com/embed/" + remoteID
	}
	if videoPath != "" {
		return "/uploads/" + filepath.Base(videoPath)
	}
	return ""
}

// pipelineErrorStatuses pairs each failure category with its HTTP status.
// Ordered so the most specific acquisition errors are matched first.
var pipelineErrorStatuses = []struct {
	sentinel error
	code     int
}{
	{media.ErrNoInput, http.StatusBadRequest},
	{media.ErrUnsupportedFormat, http.StatusBadRequest},
	{media.ErrSourceUnavailable, http.StatusUnprocessableEntity},
	{media.ErrFetchFailed, http.StatusUnprocessableEntity},
	{media.ErrMediaRead, http.StatusUnprocessableEntity},
	{transcribe.ErrNoSpeech, http.StatusUnprocessableEntity},
	{transcribe.ErrInputNotFound, http.StatusUnprocessableEntity},
	{transcribe.ErrTranscriptionFailed, http.StatusBadGateway},
	{llm.ErrGenerationFailed, http.StatusBadGateway},
	{store.ErrNotFound, http.StatusNotFound},
}

// pipelineHTTPError maps typed pipeline failures to HTTP status codes. Only
// the sentinel's short message reaches the client; wrapped detail (paths,
// subprocess stderr, backend responses) stays in the stage and HTTP logs.
func pipelineHTTPError(err error) error {
	for _, m := range pipelineErrorStatuses {
		if errors.Is(err, m.sentinel) {
			return echo.NewHTTPError(m.code, m.sentinel.Error())
		}
	}
	return echo.NewHTTPError(http.StatusInternalServerError, "processing failed")
}
