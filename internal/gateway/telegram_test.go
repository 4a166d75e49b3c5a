package gateway

import (
	"errors"
	"testing"
)

func TestNormalizeHandle(t *testing.T) {
	cases := map[string]string{
		"channelname":  "@channelname",
		"@channelname": "@channelname",
	}
	for in, want := range cases {
		if got := normalizeHandle(in); got != want {
			t.Errorf("normalizeHandle(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestIsNotInChatError(t *testing.T) {
	if !isNotInChatError(errors.New("Bad Request: user not found")) {
		t.Errorf("expected user-not-found message to be classified as not-in-chat")
	}
	if isNotInChatError(errors.New("Too Many Requests: retry after 5")) {
		t.Errorf("unrelated gateway error misclassified as not-in-chat")
	}
}

func TestIsMessageAlreadyGoneError(t *testing.T) {
	if !isMessageAlreadyGoneError(errors.New("Bad Request: message to delete not found")) {
		t.Errorf("expected already-deleted message error to be recognized")
	}
	if isMessageAlreadyGoneError(errors.New("Forbidden: bot was blocked by the user")) {
		t.Errorf("unrelated gateway error misclassified as already-gone")
	}
}

func TestIsBlockedByUserError(t *testing.T) {
	if !isBlockedByUserError(errors.New("Forbidden: bot was blocked by the user")) {
		t.Errorf("expected blocked-by-user message to be recognized")
	}
	if isBlockedByUserError(errors.New("Bad Request: message to delete not found")) {
		t.Errorf("unrelated gateway error misclassified as blocked-by-user")
	}
}
