package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/thriveai/ami/common/trace"
	"github.com/thriveai/ami/internal/ami/conversation"
	"github.com/thriveai/ami/internal/ami/session"
)

var (
	errBadRequest        = errors.New("bad request")
	errInvalidSuggestion = errors.New("no such suggestion")
)

// fail maps err onto a status code and writes the error body.
func fail(c *gin.Context, err error) {
	status, code := http.StatusInternalServerError, "internal"
	switch {
	case errors.Is(err, session.ErrSessionNotFound), errors.Is(err, session.ErrClosed):
		status, code = http.StatusNotFound, "session_not_found"
	case errors.Is(err, session.ErrReplyPending):
		status, code = http.StatusConflict, "reply_pending"
	case errors.Is(err, session.ErrUnknownAction):
		status, code = http.StatusBadRequest, "unknown_action"
	case errors.Is(err, errInvalidSuggestion):
		status, code = http.StatusBadRequest, "invalid_suggestion"
	case errors.Is(err, errBadRequest):
		status, code = http.StatusBadRequest, "bad_request"
	}
	c.AbortWithStatusJSON(status, errorBody{
		Error:   err.Error(),
		Code:    code,
		TraceID: trace.FromContext(c.Request.Context()),
	})
}

func bind(c *gin.Context, v any) bool {
	if err := c.ShouldBindJSON(v); err != nil {
		fail(c, fmt.Errorf("%w: %v", errBadRequest, err))
		return false
	}
	return true
}

func (s *Server) session(c *gin.Context) (*session.Controller, bool) {
	ctrl, err := s.deps.Registry.Get(c.Param("id"))
	if err != nil {
		fail(c, err)
		return nil, false
	}
	return ctrl, true
}

func (s *Server) createSession(c *gin.Context) {
	id := session.NewID()
	ctrl, _, err := s.deps.Registry.Open(id, s.deps.Hub.Ports(id))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, sessionCreated{
		StateView:   stateView(ctrl.ID(), ctrl.State()),
		Suggestions: ctrl.Suggestions(),
	})
}

func (s *Server) listSessions(c *gin.Context) {
	list := s.deps.Registry.List()
	if list == nil {
		list = []session.Summary{}
	}
	c.JSON(http.StatusOK, gin.H{"sessions": list})
}

func (s *Server) rateLimit(c *gin.Context, id string) {
	if s.deps.Limiter != nil {
		c.Header(RateLimitHeader, strconv.Itoa(s.deps.Limiter.Remaining(id)))
	}
}

func (s *Server) getSession(c *gin.Context) {
	ctrl, ok := s.session(c)
	if !ok {
		return
	}
	s.rateLimit(c, ctrl.ID())
	c.JSON(http.StatusOK, stateView(ctrl.ID(), ctrl.State()))
}

// deleteSession closes a live session. With ?purge=true it also deletes
// the archived transcript, which works for sessions already reaped.
func (s *Server) deleteSession(c *gin.Context) {
	id := c.Param("id")
	purge := c.Query("purge") == "true"
	err := s.deps.Registry.Close(id)
	if err != nil && !(purge && errors.Is(err, session.ErrSessionNotFound)) {
		fail(c, err)
		return
	}
	if purge {
		if err := s.purge(c.Request.Context(), id); err != nil {
			fail(c, err)
			return
		}
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) purge(ctx context.Context, id string) error {
	if s.deps.Recorder != nil {
		return s.deps.Recorder.Purge(ctx, id)
	}
	return s.deps.Archive.Delete(ctx, id)
}

func (s *Server) submit(c *gin.Context) {
	ctrl, ok := s.session(c)
	if !ok {
		return
	}
	var req textRequest
	if !bind(c, &req) {
		return
	}
	ctrl.RecordInteraction()
	if err := ctrl.Submit(c.Request.Context(), req.Text); err != nil {
		fail(c, err)
		return
	}
	s.rateLimit(c, ctrl.ID())
	c.JSON(http.StatusAccepted, stateView(ctrl.ID(), ctrl.State()))
}

func (s *Server) toggleVoice(c *gin.Context) {
	ctrl, ok := s.session(c)
	if !ok {
		return
	}
	ctrl.RecordInteraction()
	c.JSON(http.StatusOK, stateView(ctrl.ID(), ctrl.ToggleVoiceCapture()))
}

func (s *Server) setInput(c *gin.Context) {
	ctrl, ok := s.session(c)
	if !ok {
		return
	}
	var req textRequest
	if !bind(c, &req) {
		return
	}
	c.JSON(http.StatusOK, stateView(ctrl.ID(), ctrl.SetInput(req.Text)))
}

func (s *Server) suggestions(c *gin.Context) {
	ctrl, ok := s.session(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"suggestions": ctrl.Suggestions()})
}

// pickSuggestion resolves a suggestion by index, or by exact text.
func pickSuggestion(ctrl *session.Controller, index *int, text string) (string, error) {
	list := ctrl.Suggestions()
	if index != nil {
		if *index < 0 || *index >= len(list) {
			return "", fmt.Errorf("%w: index %d", errInvalidSuggestion, *index)
		}
		return list[*index], nil
	}
	for _, s := range list {
		if s == text {
			return s, nil
		}
	}
	return "", fmt.Errorf("%w: %q", errInvalidSuggestion, text)
}

func (s *Server) selectSuggestion(c *gin.Context) {
	ctrl, ok := s.session(c)
	if !ok {
		return
	}
	var req suggestionRequest
	if !bind(c, &req) {
		return
	}
	text, err := pickSuggestion(ctrl, req.Index, req.Text)
	if err != nil {
		fail(c, err)
		return
	}
	ctrl.RecordInteraction()
	c.JSON(http.StatusOK, stateView(ctrl.ID(), ctrl.SelectSuggestion(text)))
}

func (s *Server) interaction(c *gin.Context) {
	ctrl, ok := s.session(c)
	if !ok {
		return
	}
	ctrl.RecordInteraction()
	c.Status(http.StatusNoContent)
}

func (s *Server) surface(c *gin.Context) {
	ctrl, ok := s.session(c)
	if !ok {
		return
	}
	var req surfaceRequest
	if !bind(c, &req) {
		return
	}
	ctrl.Open(req.Open)
	c.JSON(http.StatusOK, gin.H{"open": ctrl.SurfaceOpen()})
}

func (s *Server) activate(c *gin.Context) {
	ctrl, ok := s.session(c)
	if !ok {
		return
	}
	var a conversation.Action
	if !bind(c, &a) {
		return
	}
	ctrl.RecordInteraction()
	if err := ctrl.Activate(c.Request.Context(), a); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// transcript reads the archive, falling back to the live log when nothing
// was archived.
func (s *Server) transcript(c *gin.Context) {
	id := c.Param("id")
	limit := 0
	if v := strings.TrimSpace(c.Query("limit")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			fail(c, fmt.Errorf("%w: limit must be a non-negative integer", errBadRequest))
			return
		}
		limit = n
	}
	msgs, err := s.deps.Archive.List(c.Request.Context(), id, limit)
	if err != nil {
		fail(c, err)
		return
	}
	if len(msgs) == 0 {
		ctrl, err := s.deps.Registry.Get(id)
		if err != nil {
			fail(c, err)
			return
		}
		msgs = ctrl.State().Messages.Messages()
		if limit > 0 && len(msgs) > limit {
			msgs = msgs[len(msgs)-limit:]
		}
	}
	if msgs == nil {
		msgs = []conversation.Message{}
	}
	c.JSON(http.StatusOK, gin.H{"session_id": id, "messages": msgs})
}

func (s *Server) websocket(c *gin.Context) {
	ctrl, ok := s.session(c)
	if !ok {
		return
	}
	s.deps.Hub.Serve(c.Writer, c.Request, ctrl)
}
