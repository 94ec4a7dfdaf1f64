package service

import (
	"crypto/rand"
	"io"
	"strings"
)

const (
	// CodeLength is the length of a minted room code.
	CodeLength = 8
	// codeAlphabet leaves out 0/O, 1/I/L.
	codeAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"
	maxCodeLen   = 32
)

// NewRoomCode mints a collision-resistant room code from crypto/rand.
func NewRoomCode() (string, error) {
	// rejection bound keeps the modulo unbiased
	limit := byte(256 - 256%len(codeAlphabet))
	out := make([]byte, 0, CodeLength)
	buf := make([]byte, CodeLength*2)
	for len(out) < CodeLength {
		if _, err := io.ReadFull(rand.Reader, buf); err != nil {
			return "", err
		}
		for _, b := range buf {
			if b >= limit {
				continue
			}
			out = append(out, codeAlphabet[int(b)%len(codeAlphabet)])
			if len(out) == CodeLength {
				break
			}
		}
	}
	return string(out), nil
}

// NormalizeCode upper-cases and trims a client supplied room code.
// It returns "" when the code cannot name a room.
func NormalizeCode(code string) string {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" || len(code) > maxCodeLen {
		return ""
	}
	for _, r := range code {
		isAlnum := (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
		if !isAlnum && r != '-' && r != '_' {
			return ""
		}
	}
	return code
}
