package domain

import (
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite" // pure-Go SQLite (no CGO)
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newDomainDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:domain_models_%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	return db
}

func TestTableNames(t *testing.T) {
	if (Room{}).TableName() != "rooms" {
		t.Fatalf("Room.TableName() = %q; want %q", (Room{}).TableName(), "rooms")
	}
	if (Message{}).TableName() != "messages" {
		t.Fatalf("Message.TableName() = %q; want %q", (Message{}).TableName(), "messages")
	}
	if (Profile{}).TableName() != "profiles" {
		t.Fatalf("Profile.TableName() = %q; want %q", (Profile{}).TableName(), "profiles")
	}
}

func TestMigrations_IndexesAndJSONColumns(t *testing.T) {
	db := newDomainDB(t)
	if err := db.AutoMigrate(&Room{}, &Message{}, &Profile{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	m := db.Migrator()
	for _, idx := range []string{"idx_rooms_queue", "idx_rooms_code", "idx_rooms_host"} {
		if !m.HasIndex(&Room{}, idx) {
			t.Fatalf("expected index %s on rooms", idx)
		}
	}
	if !m.HasIndex(&Message{}, "ux_room_sender_key") {
		t.Fatalf("expected unique index ux_room_sender_key on messages")
	}

	opp := "u2"
	now := time.Now().UTC()
	in := &Room{
		ID: "r1", Code: "RND1234", Mode: ModeBot, Status: StatusEnded,
		HostID: "u1", OpponentID: &opp, IsBotMatch: true,
		BotPersona: &Persona{ID: "bot_kavya", Name: "Kavya"},
		RoleData:   &RoleData{Topic: "Random Chat", Player2Role: "Kavya"},
		Results: &AnalysisResult{
			Player1: ScoreBreakdown{Vocab: 80, BattleScore: 300},
			Winner:  WinnerPlayer1,
		},
		CreatedAt: now,
	}
	if err := db.Create(in).Error; err != nil {
		t.Fatalf("insert room: %v", err)
	}
	var got Room
	if err := db.First(&got, "id = ?", "r1").Error; err != nil {
		t.Fatalf("read room: %v", err)
	}
	if got.BotPersona == nil || got.BotPersona.Name != "Kavya" {
		t.Fatalf("bot persona not round-tripped: %+v", got.BotPersona)
	}
	if got.RoleData == nil || got.RoleData.Topic != "Random Chat" {
		t.Fatalf("role data not round-tripped: %+v", got.RoleData)
	}
	if got.Results == nil || got.Results.Winner != WinnerPlayer1 || got.Results.Player1.Vocab != 80 {
		t.Fatalf("results not round-tripped: %+v", got.Results)
	}
}

func TestMessages_ClientKeyUniquePerSender(t *testing.T) {
	db := newDomainDB(t)
	if err := db.AutoMigrate(&Message{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	key := "k1"
	if err := db.Create(&Message{ID: "m1", RoomID: "r1", SenderID: "u1", Text: "hi", ClientKey: &key}).Error; err != nil {
		t.Fatalf("insert m1: %v", err)
	}
	if err := db.Create(&Message{ID: "m2", RoomID: "r1", SenderID: "u1", Text: "hi", ClientKey: &key}).Error; err == nil {
		t.Fatalf("expected duplicate client key to be rejected")
	}
	// Another sender may reuse the key; keyless messages never collide.
	if err := db.Create(&Message{ID: "m3", RoomID: "r1", SenderID: "u2", Text: "yo", ClientKey: &key}).Error; err != nil {
		t.Fatalf("insert m3: %v", err)
	}
	for _, id := range []string{"m4", "m5"} {
		if err := db.Create(&Message{ID: id, RoomID: "r1", SenderID: "u1", Text: "x"}).Error; err != nil {
			t.Fatalf("insert %s: %v", id, err)
		}
	}
}

func TestRoom_ParticipantHelpers(t *testing.T) {
	opp := "u2"
	r := &Room{HostID: "u1", HostName: "Ann", OpponentID: &opp, OpponentName: "Bob"}

	if !r.IsParticipant("u1") || !r.IsParticipant("u2") {
		t.Fatalf("host and opponent must be participants")
	}
	if r.IsParticipant("u3") || r.IsParticipant("") {
		t.Fatalf("stranger must not be a participant")
	}
	if got := r.Opponent("u1"); got.ID != "u2" || got.Name != "Bob" {
		t.Fatalf("host sees opponent, got %+v", got)
	}
	if got := r.Opponent("u2"); got.ID != "u1" || got.Name != "Ann" {
		t.Fatalf("opponent sees host, got %+v", got)
	}
}

func TestDecideWinner(t *testing.T) {
	cases := []struct {
		p1, p2 int
		want   Winner
	}{
		{300, 200, WinnerPlayer1},
		{120, 121, WinnerPlayer2},
		{0, 0, WinnerDraw},
	}
	for _, tc := range cases {
		got := DecideWinner(ScoreBreakdown{BattleScore: tc.p1}, ScoreBreakdown{BattleScore: tc.p2})
		if got != tc.want {
			t.Errorf("DecideWinner(%d,%d) = %s; want %s", tc.p1, tc.p2, got, tc.want)
		}
	}
}
