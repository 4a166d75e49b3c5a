package token

import (
	"encoding/hex"
	"strings"

	"golang.org/x/crypto/blake2b"
)

// externalChecksumBytes is short enough to keep the /r query string compact while still catching the overwhelming
// majority of typos and truncated copy/pastes before a database round trip is needed.
const externalChecksumBytes = 4

// checksumKey domain-separates this checksum from any other blake2b use in the module; it is not a secret, just a
// fixed salt, since the goal is corruption detection, not authentication.
var checksumKey = []byte("tollgate-token-external-v1")

// EncodeExternal appends a short blake2b-keyed checksum to a token id before it is handed to internal/deeplink for
// base64/URL-safe transport encoding. A verification link that arrives truncated or hand-edited fails this checksum
// and is rejected as malformed without ever reaching the Token Manager's repository.
func EncodeExternal(tokenID string) string {
	return tokenID + "." + checksum(tokenID)
}

// DecodeExternal reverses EncodeExternal. ok is false if the checksum does not match, meaning the caller should
// treat the link as malformed without attempting a lookup.
func DecodeExternal(external string) (tokenID string, ok bool) {
	idx := strings.LastIndexByte(external, '.')
	if idx < 0 || idx == len(external)-1 {
		return "", false
	}
	id, sum := external[:idx], external[idx+1:]
	if sum != checksum(id) {
		return "", false
	}
	return id, true
}

func checksum(tokenID string) string {
	h, _ := blake2b.New(externalChecksumBytes, checksumKey)
	_, _ = h.Write([]byte(tokenID))
	return hex.EncodeToString(h.Sum(nil))
}
