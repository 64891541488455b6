// Package identifier derives public order identifiers from the internal
// order sequence.
package identifier

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"
	"strings"
)

// SequenceStart is the first value of the orders identity column. It keeps
// order numbers looking established to customers; it is not a secret.
const SequenceStart int64 = 305317

// TokenLength is the number of digits in a tracking token.
const TokenLength = 10

const extensionSuffix = "additional"

// Generator mints order numbers and tracking tokens. Tokens are a keyed,
// deterministic function of the order number, so any token can be re-derived
// for audit by a holder of the secret.
type Generator struct {
	secret string
}

func NewGenerator(secret string) (*Generator, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("identifier: tracking secret is required")
	}
	return &Generator{secret: secret}, nil
}

// OrderNumber returns the public order number for a sequence value.
func (g *Generator) OrderNumber(sequenceID int64) string {
	return strconv.FormatInt(sequenceID, 10)
}

// TrackingToken takes the decimal digits of hex(sha256(orderNumber+secret)).
// When the digest holds fewer than TokenLength digits, digests of the input
// extended with "additional" are appended until enough digits exist.
func (g *Generator) TrackingToken(orderNumber string) string {
	var digits strings.Builder
	digits.Grow(TokenLength * 2)

	input := orderNumber + g.secret
	appendDigits(&digits, input)
	for suffix := extensionSuffix; digits.Len() < TokenLength; suffix += extensionSuffix {
		appendDigits(&digits, input+suffix)
	}

	return digits.String()[:TokenLength]
}

// Identifiers derives both public identifiers for a freshly inserted order.
func (g *Generator) Identifiers(sequenceID int64) (orderNumber, trackingToken string) {
	orderNumber = g.OrderNumber(sequenceID)
	return orderNumber, g.TrackingToken(orderNumber)
}

// Verify reports whether token is the one derived for orderNumber.
func (g *Generator) Verify(orderNumber, token string) bool {
	expected := g.TrackingToken(orderNumber)
	return hmac.Equal([]byte(expected), []byte(token))
}

// ValidToken reports whether s has the shape of a tracking token.
func ValidToken(s string) bool {
	if len(s) != TokenLength {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func appendDigits(b *strings.Builder, input string) {
	sum := sha256.Sum256([]byte(input))
	for _, c := range hex.EncodeToString(sum[:]) {
		if c >= '0' && c <= '9' {
			b.WriteRune(c)
		}
	}
}
