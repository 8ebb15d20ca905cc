/*
Package randx provides functions for generating cryptographically secure random values and unique identifiers.

It is primarily used to generate fixed-length room codes, participant colours and UUID identifiers
for participants and rooms.
*/
package randx

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"

	"github.com/google/uuid"
)

const (
	// RoomCodeAlphabet defines the character set room codes are drawn from (A-Z, 0-9).
	RoomCodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

	// RoomCodeLength is the fixed length required for the generated room code.
	RoomCodeLength = 6
)

// ParticipantColors is the palette participant avatar/cursor colours are picked from.
var ParticipantColors = []string{
	"#3B82F6",
	"#10B981",
	"#F59E0B",
	"#EF4444",
	"#8B5CF6",
	"#EC4899",
	"#06B6D4",
	"#84CC16",
}

// randomIndex returns a uniformly distributed index in [0, n) using crypto/rand.
func randomIndex(n int) (int, error) {
	num, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return 0, err
	}
	return int(num.Int64()), nil
}

// RoomCode generates a room code using a cryptographically secure random number generator (crypto/rand).
// Every character is drawn independently and uniformly from RoomCodeAlphabet.
// No uniqueness check is performed; callers must resolve collisions against a directory.
func RoomCode() (string, error) {
	result := make([]byte, RoomCodeLength)

	for i := 0; i < RoomCodeLength; i++ {
		idx, err := randomIndex(len(RoomCodeAlphabet))
		if err != nil {
			return "", fmt.Errorf("failed to generate random number for room code: %w", err)
		}

		result[i] = RoomCodeAlphabet[idx]
	}

	return string(result), nil
}

// NormalizeRoomCode trims surrounding whitespace and upper-cases the code so that
// user input is matched case-insensitively against the alphabet.
func NormalizeRoomCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// IsValidRoomCode checks if the given string is a valid room code.
// Validity criteria include: length equals RoomCodeLength and all characters belong to RoomCodeAlphabet.
func IsValidRoomCode(code string) bool {
	if len(code) != RoomCodeLength {
		return false
	}

	for _, char := range code {
		if !strings.ContainsRune(RoomCodeAlphabet, char) {
			return false
		}
	}

	return true
}

// ParticipantColor picks a random colour from ParticipantColors.
// It falls back to the first palette entry if the random source fails.
func ParticipantColor() string {
	idx, err := randomIndex(len(ParticipantColors))
	if err != nil {
		return ParticipantColors[0]
	}
	return ParticipantColors[idx]
}

// ParticipantID generates a UUID v4 string identifying a single connection's participant.
func ParticipantID() string {
	return uuid.New().String()
}

// RoomID generates a UUID v4 string identifying a room record.
func RoomID() string {
	return uuid.New().String()
}

// PresenceKey generates the key a subscription announces its presence under.
func PresenceKey() string {
	return uuid.New().String()
}
