package identifier_test

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vasiliy-maslov/storefront/internal/identifier"
)

func TestNewGenerator_RequiresSecret(t *testing.T) {
	_, err := identifier.NewGenerator("  ")
	assert.Error(t, err)
}

func TestGenerator_Identifiers(t *testing.T) {
	gen, err := identifier.NewGenerator("tracking-secret")
	require.NoError(t, err)

	tests := []struct {
		sequenceID int64
		number     string
		token      string
	}{
		{sequenceID: 305317, number: "305317", token: "5896137223"},
		{sequenceID: 305318, number: "305318", token: "7026182941"},
		{sequenceID: 305319, number: "305319", token: "6053736336"},
	}

	for _, tt := range tests {
		t.Run(tt.number, func(t *testing.T) {
			number, token := gen.Identifiers(tt.sequenceID)
			assert.Equal(t, tt.number, number)
			assert.Equal(t, tt.token, token)
			assert.True(t, gen.Verify(number, token))
		})
	}
}

func TestGenerator_TokenIsPlainSHA256OfNumberAndSecret(t *testing.T) {
	gen, err := identifier.NewGenerator("tracking-secret")
	require.NoError(t, err)

	sum := sha256.Sum256([]byte("305317" + "tracking-secret"))
	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, hex.EncodeToString(sum[:]))
	require.GreaterOrEqual(t, len(digits), identifier.TokenLength)

	assert.Equal(t, digits[:identifier.TokenLength], gen.TrackingToken("305317"))
}

func TestGenerator_TokenDependsOnSecret(t *testing.T) {
	a, err := identifier.NewGenerator("tracking-secret")
	require.NoError(t, err)
	b, err := identifier.NewGenerator("other-secret")
	require.NoError(t, err)

	assert.Equal(t, "9360308447", b.TrackingToken("305317"))
	assert.NotEqual(t, a.TrackingToken("305317"), b.TrackingToken("305317"))
	assert.False(t, b.Verify("305317", a.TrackingToken("305317")))
}

func TestGenerator_TokensAreNotSequential(t *testing.T) {
	gen, err := identifier.NewGenerator("tracking-secret")
	require.NoError(t, err)

	seen := make(map[string]string)
	var prev int64 = -1
	sequential := 0
	for seq := identifier.SequenceStart; seq < identifier.SequenceStart+500; seq++ {
		number, token := gen.Identifiers(seq)
		require.True(t, identifier.ValidToken(token), "token %q for %s", token, number)

		if other, dup := seen[token]; dup {
			t.Fatalf("token %s shared by %s and %s", token, other, number)
		}
		seen[token] = number

		n, err := strconv.ParseInt(token, 10, 64)
		require.NoError(t, err)
		if prev >= 0 && (n == prev+1 || n == prev-1) {
			sequential++
		}
		prev = n
	}
	assert.Zero(t, sequential)
}

func TestValidToken(t *testing.T) {
	assert.True(t, identifier.ValidToken("0123456789"))
	assert.False(t, identifier.ValidToken("012345678"))
	assert.False(t, identifier.ValidToken("01234567890"))
	assert.False(t, identifier.ValidToken("01234a6789"))
}
