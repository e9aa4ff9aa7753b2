package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"stillalive/internal/eventbus"
	"stillalive/internal/idgen"
	"stillalive/internal/storage"
	"stillalive/internal/will"
	logx "stillalive/pkg/logx"
)

const headerCharacterKey = "X-Character-Key"

type statusRequest struct {
	StatusType string          `json:"status_type"`
	Data       json.RawMessage `json:"data"`
}

type statusResponse struct {
	ID         int64           `json:"id"`
	StatusType string          `json:"status_type"`
	Data       json.RawMessage `json:"data"`
	Timestamp  time.Time       `json:"timestamp"`
}

// StatusRecordedEvent is published for each ingested status.
type StatusRecordedEvent struct {
	CharacterID string `json:"character_id"`
	StatusType  string `json:"status_type"`
}

func (s *Server) updateStatus(c *gin.Context) {
	key := strings.TrimSpace(c.GetHeader(headerCharacterKey))
	if key == "" {
		fail(c, http.StatusUnauthorized, "missing "+headerCharacterKey)
		return
	}
	ctx := c.Request.Context()
	ch, err := s.store.GetCharacterBySecret(ctx, key)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			fail(c, http.StatusUnauthorized, "unknown character key")
			return
		}
		s.internal(c, "lookup character by key", err)
		return
	}
	if !ch.IsActive {
		fail(c, http.StatusForbidden, "character is inactive")
		return
	}

	var req statusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "invalid json body")
		return
	}
	req.StatusType = strings.TrimSpace(req.StatusType)
	if req.StatusType == "" {
		fail(c, http.StatusBadRequest, "status_type is required")
		return
	}
	data := string(req.Data)
	if data == "" || data == "null" {
		data = "{}"
	}

	ev, err := s.store.AppendStatus(ctx, storage.StatusEvent{
		CharacterID: ch.ID,
		StatusType:  req.StatusType,
		Data:        data,
	})
	if err != nil {
		s.internal(c, "append status", err)
		return
	}
	s.metrics.StatusRecorded(ev.StatusType)
	eventbus.PublishSafe(s.bus, eventbus.TypeStatusRecorded, StatusRecordedEvent{CharacterID: ch.ID, StatusType: ev.StatusType})

	c.JSON(http.StatusCreated, statusResponse{
		ID:         ev.ID,
		StatusType: ev.StatusType,
		Data:       json.RawMessage(ev.Data),
		Timestamp:  ev.Timestamp.UTC(),
	})
}

type displayResponse struct {
	Name         string           `json:"name"`
	DisplayCode  string           `json:"display_code"`
	LastActivity *time.Time       `json:"last_activity"`
	Statuses     []statusResponse `json:"statuses"`
}

func (s *Server) display(c *gin.Context) {
	ctx := c.Request.Context()
	ch, err := s.store.GetCharacterByDisplayCode(ctx, c.Param("code"))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			fail(c, http.StatusNotFound, "not found")
			return
		}
		s.internal(c, "lookup character by display code", err)
		return
	}
	latest, err := s.store.LatestStatuses(ctx, ch.ID)
	if err != nil {
		s.internal(c, "latest statuses", err)
		return
	}
	resp := displayResponse{Name: ch.Name, DisplayCode: ch.DisplayCode, Statuses: make([]statusResponse, 0, len(latest))}
	for _, ev := range latest {
		resp.Statuses = append(resp.Statuses, statusResponse{
			ID:         ev.ID,
			StatusType: ev.StatusType,
			Data:       json.RawMessage(ev.Data),
			Timestamp:  ev.Timestamp.UTC(),
		})
	}
	if ts, ok, err := s.store.LatestActivity(ctx, ch.ID); err != nil {
		s.internal(c, "latest activity", err)
		return
	} else if ok {
		ts = ts.UTC()
		resp.LastActivity = &ts
	}
	c.JSON(http.StatusOK, resp)
}

type willBody struct {
	ID           string    `json:"id,omitempty"`
	IsEnabled    bool      `json:"is_enabled"`
	Content      string    `json:"content"`
	TargetEmail  string    `json:"target_email"`
	CcEmails     []string  `json:"cc_emails"`
	TimeoutHours int       `json:"timeout_hours"`
	CreatedAt    time.Time `json:"created_at,omitzero"`
	UpdatedAt    time.Time `json:"updated_at,omitzero"`
}

func willResponse(w storage.WillConfig) willBody {
	cc := w.CcEmails
	if cc == nil {
		cc = []string{}
	}
	return willBody{
		ID:           w.ID,
		IsEnabled:    w.IsEnabled,
		Content:      w.Content,
		TargetEmail:  w.TargetEmail,
		CcEmails:     cc,
		TimeoutHours: w.TimeoutHours,
		CreatedAt:    w.CreatedAt.UTC(),
		UpdatedAt:    w.UpdatedAt.UTC(),
	}
}

func (s *Server) getWill(c *gin.Context) {
	ctx := c.Request.Context()
	ch, ok := s.character(c)
	if !ok {
		return
	}
	w, err := s.store.GetWillConfigByCharacter(ctx, ch.ID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			fail(c, http.StatusNotFound, "will not configured")
			return
		}
		s.internal(c, "get will", err)
		return
	}
	c.JSON(http.StatusOK, willResponse(w))
}

func (s *Server) putWill(c *gin.Context) {
	ctx := c.Request.Context()
	ch, ok := s.character(c)
	if !ok {
		return
	}
	var body willBody
	if err := c.ShouldBindJSON(&body); err != nil {
		fail(c, http.StatusBadRequest, "invalid json body")
		return
	}
	in := will.ConfigInput{
		IsEnabled:    body.IsEnabled,
		Content:      body.Content,
		TargetEmail:  body.TargetEmail,
		CcEmails:     body.CcEmails,
		TimeoutHours: body.TimeoutHours,
	}.Normalize()
	if err := will.ValidateConfig(in); err != nil {
		var ve *will.ValidationError
		if errors.As(err, &ve) {
			fields := make(map[string]string, len(ve.Fields))
			for _, f := range ve.Fields {
				fields[f.Field] = f.Message
			}
			c.AbortWithStatusJSON(http.StatusBadRequest, errorBody{Error: will.ErrInvalidConfig.Error(), Fields: fields})
			return
		}
		fail(c, http.StatusBadRequest, err.Error())
		return
	}

	id, err := idgen.WillID()
	if err != nil {
		s.internal(c, "generate will id", err)
		return
	}
	saved, err := s.store.UpsertWillConfig(ctx, storage.WillConfig{
		ID:           id,
		CharacterID:  ch.ID,
		IsEnabled:    in.IsEnabled,
		Content:      in.Content,
		TargetEmail:  in.TargetEmail,
		CcEmails:     in.CcEmails,
		TimeoutHours: in.TimeoutHours,
	})
	if err != nil {
		s.internal(c, "save will", err)
		return
	}
	s.log.Info("will configuration saved",
		logx.CharacterID(ch.ID),
		logx.WillID(saved.ID),
		logx.Bool("enabled", saved.IsEnabled),
		logx.Int("cc", len(saved.CcEmails)),
	)
	c.JSON(http.StatusOK, willResponse(saved))
}

func (s *Server) character(c *gin.Context) (storage.Character, bool) {
	ch, err := s.store.GetCharacter(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			fail(c, http.StatusNotFound, "character not found")
			return storage.Character{}, false
		}
		s.internal(c, "get character", err)
		return storage.Character{}, false
	}
	return ch, true
}

func (s *Server) internal(c *gin.Context, op string, err error) {
	s.log.Error("api "+op+" failed", logx.String("path", c.FullPath()), logx.Err(err))
	fail(c, http.StatusInternalServerError, "internal error")
}
