package classroom

import (
	"bytes"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestOfferAnswerOverwrite(t *testing.T) {
	base := time.Unix(1_701_000_000, 0)
	room := newRoom("r1", base)

	if room.Offer() != nil {
		t.Fatalf("new room should have no offer")
	}

	o1 := []byte(`{"type":"offer","sdp":"v=0 first"}`)
	room.SetOffer(o1, base)
	if !bytes.Equal(room.Offer(), o1) {
		t.Fatalf("expected offer O1 after publish")
	}

	o2 := []byte(`{"type":"offer","sdp":"v=0 second"}`)
	room.SetOffer(o2, base.Add(time.Second))
	if !bytes.Equal(room.Offer(), o2) {
		t.Fatalf("later publish must replace the offer")
	}

	a1 := []byte(`{"type":"answer","sdp":"v=0"}`)
	room.SetAnswer(a1, base.Add(2*time.Second))
	if !bytes.Equal(room.Answer(), a1) {
		t.Fatalf("expected answer A1 after publish")
	}
}

func TestCandidateQueuesPerRole(t *testing.T) {
	base := time.Unix(1_701_100_000, 0)
	room := newRoom("r1", base)

	for i := 0; i < 3; i++ {
		room.AppendCandidate(RoleHost, []byte(`{"candidate":"host"}`), base)
	}
	room.AppendCandidate(RoleGuest, []byte(`{"candidate":"guest"}`), base)

	// The guest consumes the host's queue.
	items, next := room.CandidatesFor(RoleGuest, 0)
	if len(items) != 3 || next != 3 {
		t.Fatalf("guest expected 3 host candidates and cursor 3, got %d and %d", len(items), next)
	}
	items, next = room.CandidatesFor(RoleGuest, 3)
	if len(items) != 0 || next != 3 {
		t.Fatalf("drained queue expected empty and cursor 3, got %d and %d", len(items), next)
	}

	// And the host consumes the guest's queue.
	items, _ = room.CandidatesFor(RoleHost, 0)
	if len(items) != 1 {
		t.Fatalf("host expected 1 guest candidate, got %d", len(items))
	}
}

func TestChatOrderingAndStamping(t *testing.T) {
	base := time.Unix(1_701_200_000, 0)
	room := newRoom("r1", base)

	for i, text := range []string{"hello", "world", "bye"} {
		err := room.AppendChat(ChatMessage{
			UserID: "7",
			Name:   "ada@example.com",
			Role:   RoleHost,
			Text:   text,
		}, base.Add(time.Duration(i)*time.Second))
		if err != nil {
			t.Fatalf("append %q failed: %v", text, err)
		}
	}

	msgs, next := room.ChatSince(0)
	if len(msgs) != 3 || next != 3 {
		t.Fatalf("expected 3 messages and cursor 3, got %d and %d", len(msgs), next)
	}
	if msgs[0].Text != "hello" || msgs[1].Text != "world" || msgs[2].Text != "bye" {
		t.Fatalf("messages out of submission order: %+v", msgs)
	}
	if msgs[1].TS != base.Add(time.Second).UnixMilli() {
		t.Fatalf("message timestamp must be server receipt time, got %d", msgs[1].TS)
	}
}

func TestChatTruncatedTo500(t *testing.T) {
	base := time.Unix(1_701_300_000, 0)
	room := newRoom("r1", base)

	long := strings.Repeat("x", 600)
	if err := room.AppendChat(ChatMessage{UserID: "1", Role: RoleGuest, Text: long}, base); err != nil {
		t.Fatalf("append failed: %v", err)
	}

	msgs, _ := room.ChatSince(0)
	if got := len([]rune(msgs[0].Text)); got != 500 {
		t.Fatalf("expected exactly 500 stored characters, got %d", got)
	}
}

func TestChatRejectsEmptyWithoutMutating(t *testing.T) {
	base := time.Unix(1_701_400_000, 0)
	room := newRoom("r1", base)

	for _, text := range []string{"", "   ", "\n\t "} {
		if err := room.AppendChat(ChatMessage{UserID: "1", Text: text}, base); err != ErrEmptyMessage {
			t.Fatalf("text %q expected ErrEmptyMessage, got %v", text, err)
		}
	}

	if msgs, _ := room.ChatSince(0); len(msgs) != 0 {
		t.Fatalf("rejected messages must not be stored, found %d", len(msgs))
	}
}

func TestPresenceOverwriteLastApplied(t *testing.T) {
	base := time.Unix(1_701_500_000, 0)
	room := newRoom("r1", base)

	room.PublishPresence(PresenceState{Role: RoleHost, UserID: "42", Reaction: "wave"}, base)
	room.PublishPresence(PresenceState{Role: RoleHost, UserID: "42", Reaction: "clap"}, base.Add(time.Second))

	states := room.Presence()
	if len(states) != 1 {
		t.Fatalf("same key must leave one entry, got %d", len(states))
	}
	if states[0].Reaction != "clap" {
		t.Fatalf("expected last applied write to win, got %q", states[0].Reaction)
	}
}

func TestPresenceConcurrentSameKeySingleWinner(t *testing.T) {
	base := time.Unix(1_701_600_000, 0)
	room := newRoom("r1", base)

	var wg sync.WaitGroup
	wg.Add(2)
	for _, reaction := range []string{"thumbs-up", "heart"} {
		go func(reaction string) {
			defer wg.Done()
			room.PublishPresence(PresenceState{Role: RoleHost, UserID: "42", Reaction: reaction}, base)
		}(reaction)
	}
	wg.Wait()

	states := room.Presence()
	if len(states) != 1 {
		t.Fatalf("expected exactly one visible entry, got %d", len(states))
	}
	if states[0].Reaction != "thumbs-up" && states[0].Reaction != "heart" {
		t.Fatalf("visible state matches neither write: %q", states[0].Reaction)
	}
}

func TestPresenceSortedByRecency(t *testing.T) {
	base := time.Unix(1_701_700_000, 0)
	room := newRoom("r1", base)

	room.PublishPresence(PresenceState{Role: RoleHost, UserID: "1"}, base)
	room.PublishPresence(PresenceState{Role: RoleGuest, UserID: "2"}, base.Add(2*time.Second))
	room.PublishPresence(PresenceState{Role: RoleGuest, UserID: "3"}, base.Add(time.Second))

	states := room.Presence()
	if len(states) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(states))
	}
	if states[0].UserID != "2" || states[1].UserID != "3" || states[2].UserID != "1" {
		t.Fatalf("entries not in descending recency: %+v", states)
	}
}

func TestPresenceReactionTruncated(t *testing.T) {
	base := time.Unix(1_701_800_000, 0)
	room := newRoom("r1", base)

	room.PublishPresence(PresenceState{Role: RoleGuest, UserID: "9", Reaction: strings.Repeat("e", 40)}, base)
	states := room.Presence()
	if got := len([]rune(states[0].Reaction)); got != MaxReactionRunes {
		t.Fatalf("expected reaction truncated to %d, got %d", MaxReactionRunes, got)
	}
}

func TestParseRoleDefaultsToGuest(t *testing.T) {
	for _, s := range []string{"", "guest", "admin", "HOST", "observer"} {
		if got := ParseRole(s); got != RoleGuest {
			t.Fatalf("ParseRole(%q) = %q, want guest", s, got)
		}
	}
	if ParseRole("host") != RoleHost {
		t.Fatalf("ParseRole(host) should be host")
	}
	if RoleHost.Other() != RoleGuest || RoleGuest.Other() != RoleHost {
		t.Fatalf("Other() must flip roles")
	}
}
