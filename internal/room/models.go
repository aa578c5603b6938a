package room

import "time"

// Room is a per-user conversation container. RoomID is caller-supplied
// and unique only inside the owning user's namespace; ID is the
// surrogate key every message row hangs off.
type Room struct {
	ID        uint64    `gorm:"primaryKey;autoIncrement" json:"-"`
	UserID    uint64    `gorm:"not null;index:uniq_room_user_room,unique,priority:1" json:"-"`
	RoomID    int64     `gorm:"not null;index:uniq_room_user_room,unique,priority:2" json:"roomId"`
	Title     string    `gorm:"type:varchar(255);not null" json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"-"`
}

func (Room) TableName() string { return "rooms" }

// Soft-delete flags for the two halves of a message. A message row is
// never removed by a half-delete; the flags only hide it from views.
const (
	StatusNormal           = 0
	StatusInversionDeleted = 1 // the user's prompt half
	StatusResponseDeleted  = 2 // the model's reply half
)

// Options is the linkage into the upstream provider's own thread state.
// MessageID is the id the provider assigned to its reply; a later turn
// passes it back as ParentMessageID to continue the thread.
type Options struct {
	MessageID       string `gorm:"type:varchar(64)" json:"messageId,omitempty"`
	ParentMessageID string `gorm:"type:varchar(64)" json:"parentMessageId,omitempty"`
}

// Message is one prompt/response turn. Exactly one row exists per
// (RoomRowID, UUID); it is created before the upstream call starts and
// mutated in place once, when the stream commits.
type Message struct {
	ID        uint64  `gorm:"primaryKey;autoIncrement" json:"-"`
	RoomRowID uint64  `gorm:"not null;index:uniq_msg_room_uuid,unique,priority:1" json:"-"`
	UUID      int64   `gorm:"not null;index:uniq_msg_room_uuid,unique,priority:2" json:"uuid"`
	Prompt    string  `gorm:"type:text;not null" json:"prompt"`
	Response  string  `gorm:"type:text" json:"response"`
	Status    int     `gorm:"not null;default:0" json:"status"`
	DateTime  int64   `gorm:"not null;index" json:"dateTime"` // unix millis, pagination cursor
	Opt       Options `gorm:"embedded;embeddedPrefix:opt_" json:"options"`
}

func (Message) TableName() string { return "messages" }

func (m *Message) InversionDeleted() bool { return m.Status&StatusInversionDeleted != 0 }
func (m *Message) ResponseDeleted() bool  { return m.Status&StatusResponseDeleted != 0 }
