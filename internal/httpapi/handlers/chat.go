package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/quietriver/chatrelay/internal/common"
	"github.com/quietriver/chatrelay/internal/httpapi/middleware"
	"github.com/quietriver/chatrelay/internal/relay"
	"github.com/quietriver/chatrelay/internal/room"
)

func deleteFlagFor(inversion bool) int {
	if inversion {
		return room.StatusInversionDeleted
	}
	return room.StatusResponseDeleted
}

func userIDFromContext(c *gin.Context) (uint64, bool) {
	v, ok := c.Get(middleware.UserIDKey)
	if !ok {
		return 0, false
	}
	id, ok := v.(uint64)
	return id, ok
}

// failFor maps the error taxonomy onto the uniform envelope.
func failFor(c *gin.Context, err error) {
	switch {
	case errors.Is(err, common.ErrAuth):
		common.Fail(c, http.StatusUnauthorized, common.ErrAuth.Error())
	case errors.Is(err, common.ErrNotFound):
		common.Fail(c, http.StatusNotFound, "Unknown room")
	case errors.Is(err, common.ErrValidation):
		common.Fail(c, http.StatusBadRequest, "invalid input")
	case errors.Is(err, common.ErrConflict):
		common.Fail(c, http.StatusConflict, "message id already in flight")
	case errors.Is(err, common.ErrUpstream):
		common.Fail(c, http.StatusBadGateway, "upstream error")
	default:
		common.Fail(c, http.StatusInternalServerError, "internal error")
	}
}

type chatReq struct {
	RoomID     int64  `json:"roomId" binding:"required"`
	UUID       int64  `json:"uuid" binding:"required"`
	Prompt     string `json:"prompt"`
	Regenerate bool   `json:"regenerate"`
}

func (r *chatReq) validate() error {
	if !r.Regenerate && strings.TrimSpace(r.Prompt) == "" {
		return common.ErrValidation
	}
	return nil
}

// streamEntry is one line of the incremental wire format: independently
// parseable JSON values joined by newlines, not a JSON array.
type streamEntry struct {
	ID     string        `json:"id"`
	Text   string        `json:"text"`
	Role   string        `json:"role"`
	Detail *streamDetail `json:"detail"`
}

type streamDetail struct {
	Status          string `json:"status,omitempty"`
	ParentMessageID string `json:"parentMessageId,omitempty"`
}

// ChatProcess streams each cumulative snapshot to the client as it
// arrives. An abrupt end without a Success-marked entry means the
// stream is incomplete; whatever was written stays as-is.
func (h *Handler) ChatProcess(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		failFor(c, common.ErrAuth)
		return
	}

	var req chatReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, "invalid json")
		return
	}
	if err := req.validate(); err != nil {
		failFor(c, err)
		return
	}

	flusher, canFlush := c.Writer.(http.Flusher)
	wrote := false

	sink := func(u relay.Update) error {
		detail := &streamDetail{ParentMessageID: u.ParentMessageID}
		if u.Done {
			detail.Status = "Success"
		}
		b, err := json.Marshal(streamEntry{
			ID:     u.MessageID,
			Text:   u.Text,
			Role:   "assistant",
			Detail: detail,
		})
		if err != nil {
			return err
		}
		if !wrote {
			c.Header("Content-Type", "application/octet-stream")
			c.Status(http.StatusOK)
		} else {
			if _, err := c.Writer.Write([]byte("\n")); err != nil {
				return err
			}
		}
		if _, err := c.Writer.Write(b); err != nil {
			return err
		}
		wrote = true
		if canFlush {
			flusher.Flush()
		}
		return nil
	}

	rreq := relay.Request{
		UserID:     uid,
		RoomID:     req.RoomID,
		UUID:       req.UUID,
		Prompt:     req.Prompt,
		Regenerate: req.Regenerate,
	}
	if _, err := h.Relay.Send(c.Request.Context(), rreq, sink); err != nil {
		// Once bytes are on the wire the envelope would corrupt the
		// stream; the missing terminal marker tells the client enough.
		if !wrote {
			failFor(c, err)
		}
		return
	}
}

// Chat is the buffered variant: same state machine, single envelope.
func (h *Handler) Chat(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		failFor(c, common.ErrAuth)
		return
	}

	var req chatReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, "invalid json")
		return
	}
	if err := req.validate(); err != nil {
		failFor(c, err)
		return
	}

	rreq := relay.Request{
		UserID:     uid,
		RoomID:     req.RoomID,
		UUID:       req.UUID,
		Prompt:     req.Prompt,
		Regenerate: req.Regenerate,
	}
	res, err := h.Relay.Send(c.Request.Context(), rreq, nil)
	if err != nil {
		failFor(c, err)
		return
	}

	common.OK(c, gin.H{
		"text": res.Text,
		"id":   res.MessageID,
	})
}

// ChatHistory returns the client view for one room. A room this user
// does not own yields an empty list, not an error: the UI layer never
// learns whether the room exists under another owner. Other room
// operations report not-found explicitly; the asymmetry is deliberate.
func (h *Handler) ChatHistory(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		failFor(c, common.ErrAuth)
		return
	}

	roomID, err := strconv.ParseInt(c.Query("roomId"), 10, 64)
	if err != nil {
		common.Fail(c, http.StatusBadRequest, "roomId required")
		return
	}
	var lasttime int64
	if v := c.Query("lasttime"); v != "" {
		if n, perr := strconv.ParseInt(v, 10, 64); perr == nil {
			lasttime = n
		}
	}

	rm, err := h.Rooms.GetRoom(c.Request.Context(), uid, roomID)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			common.OK(c, []any{})
			return
		}
		failFor(c, err)
		return
	}

	msgs, err := h.Rooms.ListMessages(c.Request.Context(), rm.ID, lasttime, 0)
	if err != nil {
		failFor(c, err)
		return
	}
	common.OK(c, room.ClientView(msgs))
}

type chatDeleteReq struct {
	RoomID    int64 `json:"roomId" binding:"required"`
	UUID      int64 `json:"uuid" binding:"required"`
	Inversion bool  `json:"inversion"`
}

// ChatDelete soft-deletes one half of a message: the prompt half when
// inversion is set, the response half otherwise.
func (h *Handler) ChatDelete(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		failFor(c, common.ErrAuth)
		return
	}

	var req chatDeleteReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, "invalid json")
		return
	}

	rm, err := h.Rooms.GetRoom(c.Request.Context(), uid, req.RoomID)
	if err != nil {
		failFor(c, err)
		return
	}

	flag := deleteFlagFor(req.Inversion)
	if err := h.Rooms.SoftDeleteMessage(c.Request.Context(), rm.ID, req.UUID, flag); err != nil {
		failFor(c, err)
		return
	}
	common.OK(c, nil)
}

type chatClearReq struct {
	RoomID int64 `json:"roomId" binding:"required"`
}

func (h *Handler) ChatClear(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		failFor(c, common.ErrAuth)
		return
	}

	var req chatClearReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, "invalid json")
		return
	}

	rm, err := h.Rooms.GetRoom(c.Request.Context(), uid, req.RoomID)
	if err != nil {
		failFor(c, err)
		return
	}
	if err := h.Rooms.ClearRoom(c.Request.Context(), rm.ID); err != nil {
		failFor(c, err)
		return
	}
	common.OK(c, nil)
}

type regenerateAsyncReq struct {
	RoomID int64 `json:"roomId" binding:"required"`
	UUID   int64 `json:"uuid" binding:"required"`
}

// ChatRegenerateAsync queues a background regenerate for an existing
// message row. The worker runs the relay in buffered mode and commits
// the result like any other turn.
func (h *Handler) ChatRegenerateAsync(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		failFor(c, common.ErrAuth)
		return
	}
	if h.Rabbit == nil {
		common.Fail(c, http.StatusServiceUnavailable, "queue unavailable")
		return
	}

	var req regenerateAsyncReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, "invalid json")
		return
	}

	idempoKey := strings.TrimSpace(c.GetHeader("Idempotency-Key"))
	if len(idempoKey) > 128 {
		common.Fail(c, http.StatusBadRequest, "idempotency key too long")
		return
	}
	var idempoKeyPtr *string
	if idempoKey != "" {
		idempoKeyPtr = &idempoKey
	}

	rm, err := h.Rooms.GetRoom(c.Request.Context(), uid, req.RoomID)
	if err != nil {
		failFor(c, err)
		return
	}
	// The anchor row must already exist; regenerate never creates one.
	if _, err := h.Rooms.GetMessage(c.Request.Context(), rm.ID, req.UUID); err != nil {
		failFor(c, err)
		return
	}

	jobID, err := common.NewULID()
	if err != nil {
		h.Log.Error("ulid generation failed", "err", err)
		common.Fail(c, http.StatusInternalServerError, "internal error")
		return
	}

	j := &relay.Job{
		ID:             jobID,
		UserID:         uid,
		RoomID:         req.RoomID,
		UUID:           req.UUID,
		IdempotencyKey: idempoKeyPtr,
		Status:         relay.JobQueued,
	}
	j, created, err := h.Jobs.CreateOrGet(c.Request.Context(), j)
	if err != nil {
		h.Log.Error("create job failed", "err", err, "room_id", req.RoomID, "uuid", req.UUID)
		common.Fail(c, http.StatusInternalServerError, "internal error")
		return
	}

	if created {
		if err := h.Rabbit.PublishJob(c.Request.Context(), j.ID); err != nil {
			h.Log.Error("publish job failed", "err", err, "job_id", j.ID)
			common.Fail(c, http.StatusInternalServerError, "enqueue failed")
			return
		}
	}

	common.OK(c, gin.H{"job_id": j.ID})
}

func (h *Handler) GetChatJob(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		failFor(c, common.ErrAuth)
		return
	}
	jobID := c.Param("job_id")
	if jobID == "" {
		common.Fail(c, http.StatusBadRequest, "job_id required")
		return
	}

	j, err := h.Jobs.Get(c.Request.Context(), jobID)
	if err != nil {
		common.Fail(c, http.StatusNotFound, "job not found")
		return
	}
	if j.UserID != uid {
		// hide existence
		common.Fail(c, http.StatusNotFound, "job not found")
		return
	}

	common.OK(c, gin.H{
		"id":         j.ID,
		"roomId":     j.RoomID,
		"uuid":       j.UUID,
		"status":     j.Status,
		"error":      j.Error,
		"created_at": j.CreatedAt,
		"updated_at": j.UpdatedAt,
	})
}
