// Package codegen turns a campaign's code sequence into coupon codes.
package codegen

import (
	"crypto/aes"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
)

// Prefix starts every generated code
const Prefix = "FOMO-"

// BodyLen is the number of characters after the prefix
const BodyLen = 12

// 32 symbols, no I/L/O/U
const alphabet = "0123456789ABCDEFGHJKMNPQRSTVWXYZ"

// Generator derives codes by encrypting (campaign, sequence) with a
// per-campaign AES key taken from the server secret.
type Generator struct {
	secret []byte
}

// NewGenerator creates a generator keyed by secret
func NewGenerator(secret string) (*Generator, error) {
	if secret == "" {
		return nil, errors.New("code secret must not be empty")
	}
	return &Generator{secret: []byte(secret)}, nil
}

// Generate returns the code for the seq-th reservation of a campaign.
// Codes are not guessable without the secret.
func (g *Generator) Generate(campaignID int64, seq int64) (string, error) {
	block, err := aes.NewCipher(g.campaignKey(campaignID))
	if err != nil {
		return "", fmt.Errorf("failed to create AES cipher: %w", err)
	}

	// 128-bit plaintext: campaign id, then sequence
	var plain [aes.BlockSize]byte
	binary.BigEndian.PutUint64(plain[:8], uint64(campaignID))
	binary.BigEndian.PutUint64(plain[8:], uint64(seq))

	var out [aes.BlockSize]byte
	block.Encrypt(out[:], plain[:])

	return Prefix + encode(out), nil
}

func (g *Generator) campaignKey(campaignID int64) []byte {
	h := sha256.New()
	h.Write(g.secret)
	var id [8]byte
	binary.BigEndian.PutUint64(id[:], uint64(campaignID))
	h.Write(id[:])
	return h.Sum(nil)[:16]
}

// encode takes 5 bits per character from the ciphertext
func encode(block [aes.BlockSize]byte) string {
	v := binary.BigEndian.Uint64(block[8:])
	body := make([]byte, BodyLen)
	for i := BodyLen - 1; i >= 0; i-- {
		body[i] = alphabet[v&31]
		v >>= 5
	}
	return string(body)
}

// Valid reports whether code has the generator's shape
func Valid(code string) bool {
	if !strings.HasPrefix(code, Prefix) || len(code) != len(Prefix)+BodyLen {
		return false
	}
	for _, r := range code[len(Prefix):] {
		if !strings.ContainsRune(alphabet, r) {
			return false
		}
	}
	return true
}
