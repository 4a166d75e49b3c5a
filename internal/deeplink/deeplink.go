// Package deeplink encodes and decodes the Telegram bot start-parameter grammar: URL-safe base64 (with or without
// padding) of a "get-<post_no>" or "verify-<token_id>" payload.
package deeplink

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrMalformed indicates the decoded payload does not match a known grammar.
var ErrMalformed = errors.New("deeplink: malformed payload")

// Kind distinguishes the two payload shapes the grammar accepts.
type Kind string

const (
	KindGet    Kind = "get"
	KindVerify Kind = "verify"
)

// Payload is a decoded deep-link: exactly one of PostNo (for KindGet) or TokenID (for KindVerify) is meaningful.
type Payload struct {
	Kind    Kind
	PostNo  int64
	TokenID string
}

// EncodeGet builds the canonical deep link for a download request. Canonical form is unpadded URL-safe base64 (open
// question resolved in favor of the shorter, commonly-used form; decoders still accept padded input).
func EncodeGet(postNo int64) string {
	return encode(fmt.Sprintf("get-%d", postNo))
}

// EncodeVerify builds the canonical deep link carrying a return-from-web-flow signal for tokenID.
func EncodeVerify(tokenID string) string {
	return encode("verify-" + tokenID)
}

func encode(raw string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// Decode parses a bot start parameter, accepting both padded and unpadded URL-safe base64.
func Decode(param string) (Payload, error) {
	raw, err := decodeBase64(param)
	if err != nil {
		return Payload{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	switch {
	case strings.HasPrefix(raw, "get-"):
		n, err := strconv.ParseInt(strings.TrimPrefix(raw, "get-"), 10, 64)
		if err != nil || n < 1 {
			return Payload{}, fmt.Errorf("%w: invalid post number", ErrMalformed)
		}
		return Payload{Kind: KindGet, PostNo: n}, nil

	case strings.HasPrefix(raw, "verify-"):
		id := strings.TrimPrefix(raw, "verify-")
		if id == "" {
			return Payload{}, fmt.Errorf("%w: empty token id", ErrMalformed)
		}
		return Payload{Kind: KindVerify, TokenID: id}, nil

	default:
		return Payload{}, ErrMalformed
	}
}

// EncodeTokenID renders a raw token id as the URL-safe-base64 form carried in C4's query strings, resisting
// copy/paste corruption. It uses unpadded form, matching EncodeGet/EncodeVerify's canonical choice.
func EncodeTokenID(tokenID string) string {
	return encode(tokenID)
}

// DecodeTokenID reverses EncodeTokenID, accepting both padded and unpadded input.
func DecodeTokenID(encoded string) (string, error) {
	return decodeBase64(encoded)
}

// decodeBase64 tries unpadded encoding first (the canonical form), then falls back to padded, so both forms the
// grammar allows round-trip correctly.
func decodeBase64(s string) (string, error) {
	if b, err := base64.RawURLEncoding.DecodeString(s); err == nil {
		return string(b), nil
	}
	b, err := base64.URLEncoding.DecodeString(s)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
