package repo

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite" // pure-Go SQLite (no CGO)
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/companion-labs/go-companion-backend/internal/domain"
)

// test DB helper
func newRepoDB(t *testing.T, migrate ...any) *gorm.DB {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), fmt.Sprintf("repo_%d.db", time.Now().UnixNano()))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	if len(migrate) > 0 {
		if err := db.AutoMigrate(migrate...); err != nil {
			t.Fatalf("automigrate: %v", err)
		}
	}
	return db
}

func seedMsg(t *testing.T, db *gorm.DB, m domain.Message) domain.Message {
	t.Helper()
	if _, err := CreateMessage(db, &m); err != nil {
		t.Fatalf("seed message: %v", err)
	}
	return m
}

func TestCreateMessage_FillsIdentityWhenZero(t *testing.T) {
	db := newRepoDB(t, &domain.Message{})

	m, err := CreateMessage(db, &domain.Message{
		ConversationID: "c1",
		Role:           domain.RoleUser,
		Content:        "hello",
		MessageType:    domain.MessageTypeText,
	})
	if err != nil {
		t.Fatalf("CreateMessage: %v", err)
	}
	if m.ID == "" || m.CreatedAt.IsZero() {
		t.Fatalf("identity not filled: %+v", m)
	}

	got, err := GetMessage(db, m.ID)
	if err != nil {
		t.Fatalf("GetMessage: %v", err)
	}
	if got.Content != "hello" {
		t.Fatalf("roundtrip mismatch: %+v", got)
	}
}

func TestCreateMessage_PreservesCallerIdentity(t *testing.T) {
	db := newRepoDB(t, &domain.Message{})

	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	m, err := CreateMessage(db, &domain.Message{
		ID:             "fixed-id",
		ConversationID: "c1",
		Role:           domain.RoleUser,
		Content:        "x",
		MessageType:    domain.MessageTypeText,
		CreatedAt:      at,
	})
	if err != nil {
		t.Fatalf("CreateMessage: %v", err)
	}
	if m.ID != "fixed-id" || !m.CreatedAt.Equal(at) {
		t.Fatalf("caller identity rewritten: %+v", m)
	}
}

func TestGetMessageByClientID(t *testing.T) {
	db := newRepoDB(t, &domain.Message{})

	clientID := "send-1"
	seedMsg(t, db, domain.Message{
		ConversationID:  "c1",
		Role:            domain.RoleUser,
		Content:         "retryable",
		MessageType:     domain.MessageTypeText,
		ClientMessageID: &clientID,
	})

	got, err := GetMessageByClientID(db, "c1", "send-1")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if got == nil || got.Content != "retryable" {
		t.Fatalf("got %+v", got)
	}

	// absent token is not an error
	got, err = GetMessageByClientID(db, "c1", "other")
	if err != nil || got != nil {
		t.Fatalf("absent: got %+v err %v", got, err)
	}
	// scoped to the conversation
	got, err = GetMessageByClientID(db, "c2", "send-1")
	if err != nil || got != nil {
		t.Fatalf("cross-conversation: got %+v err %v", got, err)
	}
}

func TestGetAssistantReplyAfter(t *testing.T) {
	db := newRepoDB(t, &domain.Message{})

	t0 := time.Date(2026, 7, 1, 10, 0, 0, 0, time.UTC)
	user := seedMsg(t, db, domain.Message{
		ID: "u1", ConversationID: "c1", Role: domain.RoleUser,
		Content: "hi", MessageType: domain.MessageTypeText, CreatedAt: t0,
	})

	// no reply yet -> (nil, nil)
	got, err := GetAssistantReplyAfter(db, &user)
	if err != nil || got != nil {
		t.Fatalf("pending reply: got %+v err %v", got, err)
	}

	// a later user message never counts
	seedMsg(t, db, domain.Message{
		ID: "u2", ConversationID: "c1", Role: domain.RoleUser,
		Content: "again", MessageType: domain.MessageTypeText, CreatedAt: t0.Add(time.Second),
	})
	// reply sharing the exact timestamp still counts
	seedMsg(t, db, domain.Message{
		ID: "a1", ConversationID: "c1", Role: domain.RoleAssistant,
		Content: "hey", MessageType: domain.MessageTypeText, CreatedAt: t0,
	})

	got, err = GetAssistantReplyAfter(db, &user)
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if got == nil || got.ID != "a1" {
		t.Fatalf("got %+v", got)
	}
}

func TestListRecentMessages_WindowAndOrder(t *testing.T) {
	db := newRepoDB(t, &domain.Message{})

	t0 := time.Date(2026, 7, 1, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		seedMsg(t, db, domain.Message{
			ID:             fmt.Sprintf("m%d", i),
			ConversationID: "c1",
			Role:           domain.RoleUser,
			Content:        fmt.Sprintf("msg-%d", i),
			MessageType:    domain.MessageTypeText,
			CreatedAt:      t0.Add(time.Duration(i) * time.Second),
		})
	}

	out, err := ListRecentMessages(db, "c1", 3)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(out) != 3 {
		t.Fatalf("len = %d", len(out))
	}
	// newest 3, chronological
	for i, want := range []string{"m2", "m3", "m4"} {
		if out[i].ID != want {
			t.Fatalf("pos %d = %s; want %s", i, out[i].ID, want)
		}
	}
}

func TestListMessagesPage_And_Counts(t *testing.T) {
	db := newRepoDB(t, &domain.Conversation{}, &domain.Message{})
	if err := db.Create(&domain.Conversation{ID: "c1", UserID: "u1", InfluencerID: "i1"}).Error; err != nil {
		t.Fatalf("seed conversation: %v", err)
	}

	t0 := time.Date(2026, 7, 1, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 6; i++ {
		role := domain.RoleUser
		if i%2 == 1 {
			role = domain.RoleAssistant
		}
		seedMsg(t, db, domain.Message{
			ID:             fmt.Sprintf("p%d", i),
			ConversationID: "c1",
			Role:           role,
			Content:        "x",
			MessageType:    domain.MessageTypeText,
			CreatedAt:      t0.Add(time.Duration(i) * time.Second),
		})
	}

	page, err := ListMessagesPage(db, "c1", 2, 2)
	if err != nil {
		t.Fatalf("page: %v", err)
	}
	if len(page) != 2 || page[0].ID != "p2" || page[1].ID != "p3" {
		t.Fatalf("page = %+v", page)
	}

	total, err := CountMessages(db, "c1")
	if err != nil || total != 6 {
		t.Fatalf("count = %d err %v", total, err)
	}

	unread, err := CountUnread(db, "c1")
	if err != nil || unread != 3 {
		t.Fatalf("unread = %d err %v", unread, err)
	}

	// reading flips only assistant rows
	flipped, err := MarkConversationRead(context.Background(), db, "c1", time.Now().UTC())
	if err != nil {
		t.Fatalf("mark read: %v", err)
	}
	if flipped != 3 {
		t.Fatalf("flipped = %d", flipped)
	}
	if unread, _ = CountUnread(db, "c1"); unread != 0 {
		t.Fatalf("unread after read = %d", unread)
	}
}
