package chat

import "time"

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Session anchors one conversation. Exactly one identity path owns it:
// UserID for authenticated users, SessionKey (an opaque token the caller
// replays across requests, e.g. via cookie) for anonymous ones.
type Session struct {
	ID         uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID     *uint64   `gorm:"index" json:"-"`
	SessionKey *string   `gorm:"type:varchar(64);uniqueIndex" json:"-"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func (Session) TableName() string { return "chat_sessions" }

// Message is one immutable utterance in a session. Assistant content is
// the serialized validated AI response; corrections are appended as new
// messages, never edits.
type Message struct {
	ID        uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	SessionID uint64    `gorm:"index;not null" json:"session_id"`
	Role      string    `gorm:"type:varchar(16);not null" json:"role"`
	Content   string    `gorm:"type:text;not null" json:"content"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`
}

func (Message) TableName() string { return "chat_messages" }
