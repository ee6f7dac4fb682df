package repo

import (
	"context"
	"testing"
	"time"

	"github.com/companion-labs/go-companion-backend/internal/domain"
)

func TestCreateAndGetConversation(t *testing.T) {
	db := newRepoDB(t, &domain.Conversation{})
	ctx := context.Background()

	c, err := CreateConversation(ctx, db, "u1", "inf-1", domain.JSONMap{"memories": map[string]any{}})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if c.ID == "" || c.UserID != "u1" || c.InfluencerID != "inf-1" {
		t.Fatalf("conversation = %+v", c)
	}

	got, err := GetConversation(ctx, db, c.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.ID != c.ID || got.UserID != "u1" {
		t.Fatalf("roundtrip mismatch: %+v", got)
	}
}

func TestGetExistingConversation(t *testing.T) {
	db := newRepoDB(t, &domain.Conversation{})
	ctx := context.Background()

	// absent -> (nil, nil)
	got, err := GetExistingConversation(ctx, db, "u1", "inf-1")
	if err != nil || got != nil {
		t.Fatalf("absent: got %+v err %v", got, err)
	}

	first, err := CreateConversation(ctx, db, "u1", "inf-1", nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err = GetExistingConversation(ctx, db, "u1", "inf-1")
	if err != nil {
		t.Fatalf("existing: %v", err)
	}
	if got == nil || got.ID != first.ID {
		t.Fatalf("got %+v", got)
	}

	// other user's pairing is invisible
	got, err = GetExistingConversation(ctx, db, "u2", "inf-1")
	if err != nil || got != nil {
		t.Fatalf("foreign user: got %+v err %v", got, err)
	}
}

func TestListConversationsPage_ActivityOrder(t *testing.T) {
	db := newRepoDB(t, &domain.Conversation{})
	ctx := context.Background()

	a, _ := CreateConversation(ctx, db, "u1", "inf-a", nil)
	b, _ := CreateConversation(ctx, db, "u1", "inf-b", nil)
	if _, err := CreateConversation(ctx, db, "u2", "inf-a", nil); err != nil {
		t.Fatalf("seed foreign: %v", err)
	}

	// touching a makes it the most recently active
	time.Sleep(10 * time.Millisecond)
	if err := TouchConversation(ctx, db, a.ID); err != nil {
		t.Fatalf("touch: %v", err)
	}

	out, err := ListConversationsPage(ctx, db, "u1", 0, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("len = %d", len(out))
	}
	if out[0].ID != a.ID || out[1].ID != b.ID {
		t.Fatalf("order = %s, %s", out[0].ID, out[1].ID)
	}

	total, err := CountConversations(ctx, db, "u1")
	if err != nil || total != 2 {
		t.Fatalf("count = %d err %v", total, err)
	}
}

func TestUpdateConversationMetadata(t *testing.T) {
	db := newRepoDB(t, &domain.Conversation{})
	ctx := context.Background()

	c, _ := CreateConversation(ctx, db, "u1", "inf-1", nil)

	meta := domain.JSONMap{"memories": map[string]any{"favorite_color": "green"}}
	if err := UpdateConversationMetadata(ctx, db, c.ID, meta); err != nil {
		t.Fatalf("update: %v", err)
	}

	got, err := GetConversation(ctx, db, c.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	mem := got.Memories()
	if mem["favorite_color"] != "green" {
		t.Fatalf("memories = %v", mem)
	}
}

func TestMarkConversationRead_SetsLastReadAt(t *testing.T) {
	db := newRepoDB(t, &domain.Conversation{}, &domain.Message{})
	ctx := context.Background()

	c, _ := CreateConversation(ctx, db, "u1", "inf-1", nil)
	seedMsg(t, db, domain.Message{
		ConversationID: c.ID, Role: domain.RoleAssistant,
		Content: "hi", MessageType: domain.MessageTypeText,
	})

	at := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	flipped, err := MarkConversationRead(ctx, db, c.ID, at)
	if err != nil {
		t.Fatalf("mark read: %v", err)
	}
	if flipped != 1 {
		t.Fatalf("flipped = %d", flipped)
	}

	got, _ := GetConversation(ctx, db, c.ID)
	if got.LastReadAt == nil || !got.LastReadAt.Equal(at) {
		t.Fatalf("last_read_at = %v", got.LastReadAt)
	}

	// idempotent second pass flips nothing
	flipped, err = MarkConversationRead(ctx, db, c.ID, at.Add(time.Minute))
	if err != nil || flipped != 0 {
		t.Fatalf("second pass: flipped=%d err=%v", flipped, err)
	}
}

func TestDeleteConversation_SoftDeletes(t *testing.T) {
	db := newRepoDB(t, &domain.Conversation{})
	ctx := context.Background()

	c, _ := CreateConversation(ctx, db, "u1", "inf-1", nil)
	if err := DeleteConversation(ctx, db, c.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}

	if _, err := GetConversation(ctx, db, c.ID); err == nil {
		t.Fatalf("expected not found after delete")
	}
	// row survives behind the soft-delete marker
	var raw int64
	db.Raw("SELECT COUNT(*) FROM conversations WHERE id = ?", c.ID).Scan(&raw)
	if raw != 1 {
		t.Fatalf("raw rows = %d", raw)
	}
}
