package session

import (
	"testing"

	"github.com/parleyvoice/parley/pkg/types"
)

func TestHistory_Seeding(t *testing.T) {
	h := NewHistory("be brief", "understood", 0)

	msgs := h.Messages()
	if len(msgs) != 2 {
		t.Fatalf("seeded messages = %d, want 2", len(msgs))
	}
	if msgs[0].Role != types.RoleSystem || msgs[0].Content != "be brief" {
		t.Errorf("messages[0] = %+v", msgs[0])
	}
	if msgs[1].Role != types.RoleAssistant || msgs[1].Content != "understood" {
		t.Errorf("messages[1] = %+v", msgs[1])
	}
}

func TestHistory_EmptySeedsSkipped(t *testing.T) {
	h := NewHistory("", "", 0)
	if got := len(h.Messages()); got != 0 {
		t.Errorf("messages = %d, want 0", got)
	}
}

func TestHistory_AppendKeepsOrder(t *testing.T) {
	h := NewHistory("sys", "ack", 0)
	h.Append("q1", "a1")
	h.Append("q2", "a2")

	msgs := h.Messages()
	if len(msgs) != 6 {
		t.Fatalf("messages = %d, want 6", len(msgs))
	}
	want := []types.Message{
		{Role: types.RoleSystem, Content: "sys"},
		{Role: types.RoleAssistant, Content: "ack"},
		{Role: types.RoleUser, Content: "q1"},
		{Role: types.RoleAssistant, Content: "a1"},
		{Role: types.RoleUser, Content: "q2"},
		{Role: types.RoleAssistant, Content: "a2"},
	}
	for i := range want {
		if msgs[i] != want[i] {
			t.Errorf("messages[%d] = %+v, want %+v", i, msgs[i], want[i])
		}
	}
	if h.Len() != 2 {
		t.Errorf("Len = %d, want 2", h.Len())
	}
}

func TestHistory_TurnCapEvictsOldestPair(t *testing.T) {
	h := NewHistory("sys", "ack", 2)
	h.Append("q1", "a1")
	h.Append("q2", "a2")
	h.Append("q3", "a3")

	msgs := h.Messages()
	// Seed pair survives; q1/a1 is evicted as a pair.
	if len(msgs) != 6 {
		t.Fatalf("messages = %d, want 6", len(msgs))
	}
	if msgs[2].Content != "q2" {
		t.Errorf("oldest retained turn = %q, want q2", msgs[2].Content)
	}
	if msgs[0].Role != types.RoleSystem {
		t.Error("seed must survive eviction")
	}
	if h.Len() != 2 {
		t.Errorf("Len = %d, want 2", h.Len())
	}
}

func TestHistory_MessagesIsACopy(t *testing.T) {
	h := NewHistory("sys", "ack", 0)
	h.Append("q", "a")

	msgs := h.Messages()
	msgs = append(msgs, types.Message{Role: types.RoleUser, Content: "in-flight"})
	msgs[0].Content = "mutated"

	again := h.Messages()
	if len(again) != 4 {
		t.Errorf("history grew to %d messages after caller append", len(again))
	}
	if again[0].Content != "sys" {
		t.Errorf("history mutated through returned slice: %q", again[0].Content)
	}
}
