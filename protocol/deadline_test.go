package protocol_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grpcwebgo/grpcweb/protocol"
)

func TestParseTimeout(t *testing.T) {
	cases := []struct {
		header  string
		seconds float64
	}{
		{"1H", 3600},
		{"2M", 120},
		{"30S", 30},
		{"100m", 0.1},
		{"500u", 0.0005},
		{"10n", 1e-8},
		{"0S", 0},
	}

	for _, tc := range cases {
		got, err := protocol.ParseTimeout(tc.header)
		require.NoError(t, err)
		assert.InDelta(t, tc.seconds, got, 1e-9)
	}
}

func TestParseTimeoutInvalid(t *testing.T) {
	for _, header := range []string{"", "S", "X5", "5X"} {
		_, err := protocol.ParseTimeout(header)
		assert.ErrorIs(t, err, protocol.ErrInvalidDeadline, "header %q", header)
	}
}

func TestEncodeTimeoutRoundTrip(t *testing.T) {
	for _, seconds := range []float64{0, 1, 30, 0.1, 3600, 100} {
		header := protocol.EncodeTimeout(seconds)
		got, err := protocol.ParseTimeout(header)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, got, seconds-1e-9)
	}
}

func TestEncodeTimeoutNegativeClampsToZero(t *testing.T) {
	header := protocol.EncodeTimeout(-5)
	got, err := protocol.ParseTimeout(header)
	require.NoError(t, err)
	assert.Equal(t, float64(0), got)
}

func TestEncodeTimeoutKeepsDigitsBounded(t *testing.T) {
	header := protocol.EncodeTimeout(1e9)
	assert.LessOrEqual(t, len(header)-1, 8)
	_, err := protocol.ParseTimeout(header)
	require.NoError(t, err)
}

func TestParseTimeoutRejectsScientificNotation(t *testing.T) {
	_, err := protocol.ParseTimeout("1e-7S")
	assert.ErrorIs(t, err, protocol.ErrInvalidDeadline)
}

func TestEncodeTimeoutMonotonic(t *testing.T) {
	a := protocol.EncodeTimeout(1)
	b := protocol.EncodeTimeout(2)
	av, _ := protocol.ParseTimeout(a)
	bv, _ := protocol.ParseTimeout(b)
	assert.True(t, math.Abs(bv-av) > 0)
}
