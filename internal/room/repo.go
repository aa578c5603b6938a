package room

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/quietriver/chatrelay/internal/common"
)

type Repo struct {
	db *gorm.DB
}

func NewRepo(db *gorm.DB) *Repo {
	return &Repo{db: db}
}

// CreateRoom upserts by (userID, roomID). Recreating an existing room
// refreshes the title and is never an error.
func (r *Repo) CreateRoom(ctx context.Context, userID uint64, roomID int64, title string) (*Room, error) {
	rm := &Room{UserID: userID, RoomID: roomID, Title: title}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "room_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"title", "updated_at"}),
	}).Create(rm).Error
	if err != nil {
		return nil, err
	}
	return r.GetRoom(ctx, userID, roomID)
}

// RenameRoom is a no-op if the room is absent or foreign.
func (r *Repo) RenameRoom(ctx context.Context, userID uint64, roomID int64, title string) error {
	return r.db.WithContext(ctx).Model(&Room{}).
		Where("user_id = ? AND room_id = ?", userID, roomID).
		Update("title", title).Error
}

// GetRoom resolves the owner-scoped pair to a row. A room owned by a
// different user looks exactly like a missing one.
func (r *Repo) GetRoom(ctx context.Context, userID uint64, roomID int64) (*Room, error) {
	var rm Room
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND room_id = ?", userID, roomID).
		First(&rm).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, common.ErrNotFound
		}
		return nil, err
	}
	return &rm, nil
}

// RoomExists is the authorization predicate for every room-scoped
// operation; the unique (user_id, room_id) index makes it a point read.
func (r *Repo) RoomExists(ctx context.Context, userID uint64, roomID int64) (bool, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&Room{}).
		Where("user_id = ? AND room_id = ?", userID, roomID).
		Count(&n).Error
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// DeleteRoom removes the room and cascades to its messages.
func (r *Repo) DeleteRoom(ctx context.Context, userID uint64, roomID int64) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rm Room
		if err := tx.Where("user_id = ? AND room_id = ?", userID, roomID).First(&rm).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return common.ErrNotFound
			}
			return err
		}
		if err := tx.Where("room_row_id = ?", rm.ID).Delete(&Message{}).Error; err != nil {
			return err
		}
		return tx.Delete(&rm).Error
	})
}

// ListRooms returns the user's rooms in creation order.
func (r *Repo) ListRooms(ctx context.Context, userID uint64) ([]Room, error) {
	var rooms []Room
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("id ASC").
		Find(&rooms).Error
	if err != nil {
		return nil, err
	}
	return rooms, nil
}

// InsertMessage creates the durability anchor for one turn: the row
// exists before any upstream call so a crash mid-stream leaves an
// attributable empty-response row. A duplicate (room, uuid) pair means
// a racing in-flight request and comes back as a conflict.
func (r *Repo) InsertMessage(ctx context.Context, m *Message) error {
	if strings.TrimSpace(m.Prompt) == "" {
		return common.ErrValidation
	}
	if m.DateTime == 0 {
		m.DateTime = time.Now().UnixMilli()
	}
	if err := r.db.WithContext(ctx).Create(m).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return common.ErrConflict
		}
		return err
	}
	return nil
}

// GetMessage fetches one turn by its caller-supplied uuid. Used by the
// regenerate path to re-send a prior prompt without a second row.
func (r *Repo) GetMessage(ctx context.Context, roomRowID uint64, uuid int64) (*Message, error) {
	var m Message
	err := r.db.WithContext(ctx).
		Where("room_row_id = ? AND uuid = ?", roomRowID, uuid).
		First(&m).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, common.ErrNotFound
		}
		return nil, err
	}
	return &m, nil
}

// UpdateMessageResult is the single mutation point after a successful
// stream. One in-flight request owns one message row, so last-write-wins
// here is race-free; calling it twice with the same arguments is a no-op
// the second time.
func (r *Repo) UpdateMessageResult(ctx context.Context, messageRowID uint64, responseText, upstreamMessageID string) error {
	return r.db.WithContext(ctx).Model(&Message{}).
		Where("id = ?", messageRowID).
		Updates(map[string]any{
			"response":       responseText,
			"opt_message_id": upstreamMessageID,
		}).Error
}

// ListMessages returns messages oldest -> newest. A non-zero sinceMs
// cursor restricts to rows strictly older than it; a positive limit
// bounds the page, anchored at the cursor: the limit newest rows below
// it, not the room's oldest.
func (r *Repo) ListMessages(ctx context.Context, roomRowID uint64, sinceMs int64, limit int) ([]Message, error) {
	q := r.db.WithContext(ctx).Where("room_row_id = ?", roomRowID)
	if sinceMs > 0 {
		q = q.Where("date_time < ?", sinceMs)
	}
	var msgs []Message
	if limit > 0 {
		if err := q.Order("date_time DESC, id DESC").Limit(limit).Find(&msgs).Error; err != nil {
			return nil, err
		}
		for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
			msgs[i], msgs[j] = msgs[j], msgs[i]
		}
		return msgs, nil
	}
	if err := q.Order("date_time ASC, id ASC").Find(&msgs).Error; err != nil {
		return nil, err
	}
	return msgs, nil
}

// SoftDeleteMessage flips one half's deleted flag. The row stays so the
// room's ordering and upstream linkage survive.
func (r *Repo) SoftDeleteMessage(ctx context.Context, roomRowID uint64, uuid int64, flag int) error {
	m, err := r.GetMessage(ctx, roomRowID, uuid)
	if err != nil {
		return err
	}
	return r.db.WithContext(ctx).Model(m).
		Update("status", gorm.Expr("status | ?", flag)).Error
}

// ClearRoom hard-deletes all messages but keeps the room.
func (r *Repo) ClearRoom(ctx context.Context, roomRowID uint64) error {
	return r.db.WithContext(ctx).
		Where("room_row_id = ?", roomRowID).
		Delete(&Message{}).Error
}
