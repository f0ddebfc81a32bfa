package utils

import (
	"crypto/rand"
	"encoding/hex"
	"strings"

	"github.com/pocketbase/pocketbase/tools/security"
)

// recordIDAlphabet matches the default pocketbase record id pattern.
const recordIDAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

// NewRecordID returns a 15 character id usable as a pocketbase record id.
// Ids are assigned before insert so events can reference the entity in the same transaction.
func NewRecordID() string {
	return security.RandomStringWithAlphabet(15, recordIDAlphabet)
}

func GenerateCode(n int) (string, error) {
	// Make a slice of nBytes random bytes.
	byt := make([]byte, n)

	// Read into the slice.
	if _, err := rand.Read(byt); err != nil {
		return "", err
	}

	// Return the hexadecimal string.
	return strings.ToUpper(hex.EncodeToString(byt)), nil
}
