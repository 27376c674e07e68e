package cursor

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundTrip(t *testing.T) {
	in := Cursor{
		Before:    time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC),
		MessageID: uuid.New(),
	}

	token := Encode(in)
	assert.NotContains(t, token, "=", "token is raw URL-safe base64")
	assert.False(t, strings.ContainsAny(token, "+/"))

	out, err := Decode(token)
	require.NoError(t, err)
	assert.True(t, in.Before.Equal(out.Before))
	assert.Equal(t, in.MessageID, out.MessageID)
}

func TestDecodeRejectsGarbage(t *testing.T) {
	_, err := Decode("not base64!!!")
	assert.Error(t, err)

	// Valid base64, invalid payload.
	_, err = Decode("bm90LWpzb24")
	assert.Error(t, err)
}

func TestClampLimit(t *testing.T) {
	assert.Equal(t, DefaultLimit, ClampLimit(0))
	assert.Equal(t, DefaultLimit, ClampLimit(-5))
	assert.Equal(t, 1, ClampLimit(1))
	assert.Equal(t, 30, ClampLimit(30))
	assert.Equal(t, MaxLimit, ClampLimit(100))
	assert.Equal(t, MaxLimit, ClampLimit(5000))
}
