// Package sign implements the signed-URL admission protocol: an HMAC-SHA-256
// capability token over a room name, URL-safe base64 encoded without padding.
package sign

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"regexp"
)

// roomNamePattern is the grammar a room name must satisfy: non-empty,
// alphanumeric plus hyphen.
var roomNamePattern = regexp.MustCompile(`^[A-Za-z0-9-]+$`)

// ErrInvalidRoomName is returned by Mint when room fails the grammar check.
var ErrInvalidRoomName = fmt.Errorf("room name must contain only alphanumeric characters and hyphens")

// ValidRoomName reports whether room satisfies the admission grammar.
func ValidRoomName(room string) bool {
	return room != "" && roomNamePattern.MatchString(room)
}

// sum computes the URL-safe, unpadded base64 encoding of HMAC-SHA-256(key, room).
func sum(key, room string) string {
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write([]byte(room))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

// Verify reports whether signature is the correct HMAC-SHA-256 of room under
// key, using constant-time comparison. A missing key always fails closed.
func Verify(key, room, signature string) bool {
	if key == "" {
		return false
	}
	expected := sum(key, room)
	return subtle.ConstantTimeCompare([]byte(expected), []byte(signature)) == 1
}

// Mint validates room against the admission grammar and returns its
// HMAC-SHA-256 signature, encoded identically to Verify.
func Mint(key, room string) (string, error) {
	if !ValidRoomName(room) {
		return "", ErrInvalidRoomName
	}
	return sum(key, room), nil
}

// URL builds the full signed-URL a client uses to open a wire, given the
// base URL prefix (e.g. "ws://localhost:8080").
func URL(baseURL, key, room string) (string, error) {
	signature, err := Mint(key, room)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s/?room=%s&signature=%s", baseURL, room, signature), nil
}
