// Package idgen generates identifiers: nanoid for short public codes and row
// ids, UUIDv4 for character ids and ingestion secrets.
package idgen

import (
	"fmt"

	"github.com/google/uuid"
	nanoid "github.com/matoous/go-nanoid/v2"
)

const (
	PrefixWill   = "wil_"
	PrefixOutbox = "obx_"
)

// Alphabet is the character set of nanoid-based ids and display codes.
// Look-alike characters are left out because display codes end up in mail links.
const Alphabet = "abcdefghijkmnopqrstuvwxyzABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// Length is the random part of prefixed ids.
const Length = 16

// DisplayCodeLength is the length of public display codes.
const DisplayCodeLength = 10

// GenerateWithPrefix returns prefix followed by Length random characters.
func GenerateWithPrefix(prefix string) (string, error) {
	id, err := nanoid.Generate(Alphabet, Length)
	if err != nil {
		return "", fmt.Errorf("idgen: %w", err)
	}
	return prefix + id, nil
}

func WillID() (string, error)   { return GenerateWithPrefix(PrefixWill) }
func OutboxID() (string, error) { return GenerateWithPrefix(PrefixOutbox) }

// DisplayCode returns a short public code for character pages.
func DisplayCode() (string, error) {
	id, err := nanoid.Generate(Alphabet, DisplayCodeLength)
	if err != nil {
		return "", fmt.Errorf("idgen: %w", err)
	}
	return id, nil
}

func CharacterID() string { return uuid.NewString() }

// SecretKey returns a fresh status ingestion key.
func SecretKey() string { return uuid.NewString() }
