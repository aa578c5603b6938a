package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/quietriver/chatrelay/internal/common"
)

type roomCreateReq struct {
	RoomID int64  `json:"roomId" binding:"required"`
	Title  string `json:"title"`
}

// RoomCreate upserts: recreating with the same id refreshes the title
// and returns the current state, never an error.
func (h *Handler) RoomCreate(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		failFor(c, common.ErrAuth)
		return
	}

	var req roomCreateReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, "invalid json")
		return
	}
	title := strings.TrimSpace(req.Title)
	if title == "" {
		title = "New Chat"
	}

	rm, err := h.Rooms.CreateRoom(c.Request.Context(), uid, req.RoomID, title)
	if err != nil {
		failFor(c, err)
		return
	}
	common.OK(c, rm)
}

type roomRenameReq struct {
	RoomID int64  `json:"roomId" binding:"required"`
	Title  string `json:"title" binding:"required"`
}

func (h *Handler) RoomRename(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		failFor(c, common.ErrAuth)
		return
	}

	var req roomRenameReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, "invalid json")
		return
	}

	if err := h.Rooms.RenameRoom(c.Request.Context(), uid, req.RoomID, req.Title); err != nil {
		failFor(c, err)
		return
	}
	common.OK(c, nil)
}

type roomDeleteReq struct {
	RoomID int64 `json:"roomId" binding:"required"`
}

func (h *Handler) RoomDelete(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		failFor(c, common.ErrAuth)
		return
	}

	var req roomDeleteReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, "invalid json")
		return
	}

	if err := h.Rooms.DeleteRoom(c.Request.Context(), uid, req.RoomID); err != nil {
		failFor(c, err)
		return
	}
	common.OK(c, nil)
}

func (h *Handler) RoomList(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		failFor(c, common.ErrAuth)
		return
	}

	rooms, err := h.Rooms.ListRooms(c.Request.Context(), uid)
	if err != nil {
		failFor(c, err)
		return
	}
	common.OK(c, rooms)
}
