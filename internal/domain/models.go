// Package domain defines the persistence models for rooms, messages, and
// learner profiles. These types are mapped with GORM (and BSON for the Mongo
// store) and form the core data layer of the battle backend.
package domain

import (
	"time"
)

// RoomStatus is the lifecycle state of a room. It only moves forward:
// waiting → matched → ended.
type RoomStatus string

const (
	StatusWaiting RoomStatus = "waiting"
	StatusMatched RoomStatus = "matched"
	StatusEnded   RoomStatus = "ended"
)

// RoomMode records how a room was created.
type RoomMode string

const (
	ModeRandom  RoomMode = "random"  // waiting in the public queue
	ModePrivate RoomMode = "private" // joined by code
	ModeDirect  RoomMode = "direct"  // invitation, created already matched
	ModeBot     RoomMode = "bot"     // chosen simulated partner, created already matched
)

// Room represents one matchmaking and conversation session between a host
// (player 1) and an opponent (player 2, possibly a simulated persona).
//
// Fields:
//   - ID: stable UUID primary key (char(36)).
//   - Code: human readable code ("RND1234" for random rooms, "1234" for private).
//   - Host*: identity of the participant who created the room.
//   - Opponent*: set exactly once, when the room leaves the waiting state.
//   - BotPersona / RoleData / Results: nested documents stored as JSON.
//   - HostRequestedSeconds: session length asked for by the host, 0 = unlimited.
//   - SessionDurationSeconds: negotiated length once matched.
//   - Version: revision counter checked on every write (compare-and-set).
type Room struct {
	ID     string     `json:"id"       bson:"_id"    gorm:"type:char(36);primaryKey"`
	Code   string     `json:"roomCode" bson:"code"   gorm:"type:varchar(16);not null;index:idx_rooms_code"`
	Mode   RoomMode   `json:"mode"     bson:"mode"   gorm:"type:varchar(16);not null;index:idx_rooms_queue,priority:2"`
	Status RoomStatus `json:"status"   bson:"status" gorm:"type:varchar(16);not null;index:idx_rooms_queue,priority:1;check:status IN ('waiting','matched','ended')"`

	HostID     string `json:"hostId"     bson:"hostId"     gorm:"type:varchar(128);not null;index:idx_rooms_host"`
	HostName   string `json:"hostName"   bson:"hostName"   gorm:"type:varchar(128)"`
	HostAvatar string `json:"hostAvatar" bson:"hostAvatar" gorm:"type:varchar(64)"`

	OpponentID     *string `json:"opponentId,omitempty"     bson:"opponentId,omitempty" gorm:"type:varchar(128)"`
	OpponentName   string  `json:"opponentName,omitempty"   bson:"opponentName"         gorm:"type:varchar(128)"`
	OpponentAvatar string  `json:"opponentAvatar,omitempty" bson:"opponentAvatar"       gorm:"type:varchar(64)"`

	IsBotMatch bool      `json:"isBotMatch"           bson:"isBotMatch"`
	BotPersona *Persona  `json:"botPersona,omitempty" bson:"botPersona,omitempty" gorm:"type:text;serializer:json"`
	RoleData   *RoleData `json:"roleData,omitempty"   bson:"roleData,omitempty"   gorm:"type:text;serializer:json"`

	HostRequestedSeconds   int `json:"hostRequestedSeconds"   bson:"hostRequestedSeconds"`
	SessionDurationSeconds int `json:"sessionDurationSeconds" bson:"sessionDurationSeconds"`

	Results *AnalysisResult `json:"results,omitempty" bson:"results,omitempty" gorm:"type:text;serializer:json"`
	EndedBy string          `json:"endedBy,omitempty" bson:"endedBy"           gorm:"type:varchar(128)"`

	Version   int64      `json:"version"             bson:"version"   gorm:"not null;default:0"`
	CreatedAt time.Time  `json:"createdAt"           bson:"createdAt" gorm:"index:idx_rooms_queue,priority:3"`
	StartedAt *time.Time `json:"startedAt,omitempty" bson:"startedAt,omitempty"`
	EndedAt   *time.Time `json:"endedAt,omitempty"   bson:"endedAt,omitempty"`
}

// TableName returns the database table name for Room.
func (Room) TableName() string { return "rooms" }

// IsParticipant reports whether userID is the host or the opponent.
func (r *Room) IsParticipant(userID string) bool {
	if userID == "" {
		return false
	}
	return r.HostID == userID || (r.OpponentID != nil && *r.OpponentID == userID)
}

// Opponent returns the other side of the room as seen by userID.
func (r *Room) Opponent(userID string) Participant {
	if r.HostID == userID {
		p := Participant{Name: r.OpponentName, Avatar: r.OpponentAvatar}
		if r.OpponentID != nil {
			p.ID = *r.OpponentID
		}
		return p
	}
	return Participant{ID: r.HostID, Name: r.HostName, Avatar: r.HostAvatar}
}

// Participant is the public identity of one side of a room.
type Participant struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Avatar string `json:"avatar"`
}

// Persona is a simulated conversation partner. Prompt is data, not logic.
type Persona struct {
	ID     string `json:"id"     bson:"id"     toml:"id"`
	Name   string `json:"name"   bson:"name"   toml:"name"`
	Avatar string `json:"avatar" bson:"avatar" toml:"avatar"`
	Style  string `json:"style"  bson:"style"  toml:"style"`
	Prompt string `json:"prompt" bson:"prompt" toml:"prompt"`
}

// RoleData is the scenario assigned to a room. Player 1 is always the host.
type RoleData struct {
	PairID      string `json:"pairId,omitempty" bson:"pairId,omitempty"`
	Topic       string `json:"topic"            bson:"topic"`
	Player1Role string `json:"player1Role"      bson:"player1Role"`
	Player1Icon string `json:"player1Icon"      bson:"player1Icon"`
	Player1Desc string `json:"player1Desc"      bson:"player1Desc"`
	Player2Role string `json:"player2Role"      bson:"player2Role"`
	Player2Icon string `json:"player2Icon"      bson:"player2Icon"`
	Player2Desc string `json:"player2Desc"      bson:"player2Desc"`
}

// Message is a single utterance within a room. Messages are append-only and
// ordered by (created_at, id).
//
// ClientKey is an optional idempotency key supplied by the sender; it is
// unique per (room, sender) so a retried send does not append twice.
type Message struct {
	ID        string    `json:"id"                  bson:"_id"       gorm:"type:char(36);primaryKey"`
	RoomID    string    `json:"roomId"              bson:"roomId"    gorm:"type:char(36);not null;index:idx_room_msgs,priority:1;uniqueIndex:ux_room_sender_key,priority:1"`
	SenderID  string    `json:"senderId"            bson:"senderId"  gorm:"type:varchar(128);not null;uniqueIndex:ux_room_sender_key,priority:2"`
	Text      string    `json:"text"                bson:"text"      gorm:"type:text;not null"`
	ClientKey *string   `json:"clientKey,omitempty" bson:"clientKey,omitempty" gorm:"type:varchar(200);uniqueIndex:ux_room_sender_key,priority:3"`
	CreatedAt time.Time `json:"createdAt"           bson:"createdAt" gorm:"index:idx_room_msgs,priority:2"`
}

// TableName returns the database table name for Message.
func (Message) TableName() string { return "messages" }

// Profile carries per-learner state that outlives a single room.
// LastBots holds at most three persona ids, oldest first.
type Profile struct {
	UserID    string    `json:"userId"    bson:"_id"       gorm:"type:varchar(128);primaryKey"`
	LastBots  []string  `json:"lastBots"  bson:"lastBots"  gorm:"type:text;serializer:json"`
	UpdatedAt time.Time `json:"updatedAt" bson:"updatedAt"`
}

// TableName returns the database table name for Profile.
func (Profile) TableName() string { return "profiles" }
