// Package gateway speaks the hosted payment page protocol: signed outbound
// payment requests, signed inbound callbacks and the signed acknowledgment the
// gateway expects back.
package gateway

import (
	"crypto/hmac"
	"crypto/md5"
	"encoding/hex"
	"strings"
)

const fieldSeparator = ";"

// Sign returns the lowercase hex HMAC-MD5 of fields joined with ";".
func Sign(secret string, fields ...string) string {
	mac := hmac.New(md5.New, []byte(secret))
	mac.Write([]byte(strings.Join(fields, fieldSeparator)))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify compares signature with the expected one in constant time. Case is
// ignored since the gateway documents hex but not its case.
func Verify(secret, signature string, fields ...string) bool {
	expected := Sign(secret, fields...)
	return hmac.Equal([]byte(expected), []byte(strings.ToLower(strings.TrimSpace(signature))))
}
