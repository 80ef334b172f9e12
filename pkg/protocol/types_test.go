package protocol

import (
	"strings"
	"testing"
)

func TestGenerateMessageID(t *testing.T) {
	id1 := GenerateMessageID()
	id2 := GenerateMessageID()
	id3 := GenerateMessageID()

	if id1 == id2 || id2 == id3 || id1 == id3 {
		t.Error("GenerateMessageID() produced identical IDs (collision)")
	}

	if len(id1) != 16 {
		t.Errorf("GenerateMessageID() length = %d, want 16", len(id1))
	}
}

func TestGenerateMessageIDUniqueness(t *testing.T) {
	ids := make(map[string]bool)
	count := 1000

	for i := 0; i < count; i++ {
		id := GenerateMessageID()
		if ids[id] {
			t.Errorf("GenerateMessageID() collision detected at iteration %d", i)
		}
		ids[id] = true
	}
}

func TestGenerateGameID(t *testing.T) {
	id := GenerateGameID()
	if !strings.HasPrefix(id, "g") {
		t.Errorf("GenerateGameID() = %q, want g prefix", id)
	}
	if strings.ContainsAny(id, ":\n|") {
		t.Errorf("GenerateGameID() = %q contains a reserved character", id)
	}
}

func TestScopeFor(t *testing.T) {
	tests := []struct {
		msgType MessageType
		scope   Scope
		scoped  bool
	}{
		{TypeProfile, "", false},
		{TypePing, "", false},
		{TypePost, ScopeBroadcast, true},
		{TypeLike, ScopeBroadcast, true},
		{TypeUnlike, ScopeBroadcast, true},
		{TypeDM, ScopeChat, true},
		{TypeFollow, ScopeFollow, true},
		{TypeUnfollow, ScopeFollow, true},
		{TypeGroupCreate, ScopeGroup, true},
		{TypeGroupUpdate, ScopeGroup, true},
		{TypeGroupMessage, ScopeGroup, true},
		{TypeFileOffer, ScopeFile, true},
		{TypeFileAccept, ScopeFile, true},
		{TypeFileChunk, ScopeFile, true},
		{TypeGameInvite, ScopeGame, true},
		{TypeGameAccept, ScopeGame, true},
		{TypeGameMove, ScopeGame, true},
		{TypeGameResult, ScopeGame, true},
		{MessageType("REVOKE"), "", false},
	}

	for _, tt := range tests {
		t.Run(string(tt.msgType), func(t *testing.T) {
			scope, ok := ScopeFor(tt.msgType)
			if ok != tt.scoped {
				t.Errorf("ScopeFor(%s) scoped = %v, want %v", tt.msgType, ok, tt.scoped)
			}
			if scope != tt.scope {
				t.Errorf("ScopeFor(%s) = %q, want %q", tt.msgType, scope, tt.scope)
			}
		})
	}
}

func TestMessageTypeKnown(t *testing.T) {
	if !TypePing.Known() || !TypeGameResult.Known() {
		t.Error("catalogue types should be known")
	}
	if MessageType("REVOKE").Known() {
		t.Error("REVOKE should not be known")
	}
}

func TestIsMultiLine(t *testing.T) {
	if !IsMultiLine(FieldData) || !IsMultiLine(FieldAvatarData) {
		t.Error("DATA and AVATAR_DATA must be multi-line")
	}
	if IsMultiLine(FieldContent) {
		t.Error("CONTENT must not be multi-line")
	}
}
