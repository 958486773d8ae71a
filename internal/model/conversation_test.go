package model

import (
	"testing"
	"time"
)

func TestPairKey_OrderIndependent(t *testing.T) {
	if PairKey("alice", "bob") != PairKey("bob", "alice") {
		t.Errorf("PairKey should not depend on argument order")
	}
	if got := PairKey("b", "a"); got != "a|b" {
		t.Errorf("Expected 'a|b', got %q", got)
	}
}

func TestConversation_Participants(t *testing.T) {
	conv := NewConversation("u2", "u1", time.Now())

	if conv.Participants[0].ID != "u1" || conv.Participants[1].ID != "u2" {
		t.Errorf("Expected sorted participants, got %+v", conv.Participants)
	}
	if !conv.HasParticipant("u1") || !conv.HasParticipant("u2") {
		t.Error("Both users should be participants")
	}
	if conv.HasParticipant("u3") || conv.HasParticipant("") {
		t.Error("Unknown or empty user should not be a participant")
	}

	others := conv.Others("u1")
	if len(others) != 1 || others[0] != "u2" {
		t.Errorf("Expected [u2], got %v", others)
	}
}
