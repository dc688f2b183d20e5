package repository

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/guildkit/guild-tickets/pkg/util/errorutil"
)

func TestCursorRoundTrip(t *testing.T) {
	at := time.Date(2024, 5, 6, 7, 8, 9, 123456000, time.UTC)
	token := EncodeCursor(AuditCursor{CreatedAt: at, ID: "01HV0000000000000000000000"})
	require.NotEmpty(t, token)

	decoded, err := DecodeCursor(token)
	require.NoError(t, err)
	require.NotNil(t, decoded)
	assert.True(t, at.Equal(decoded.CreatedAt))
	assert.Equal(t, "01HV0000000000000000000000", decoded.ID)
}

func TestDecodeCursorEmpty(t *testing.T) {
	decoded, err := DecodeCursor("  ")
	require.NoError(t, err)
	assert.Nil(t, decoded)
}

func TestDecodeCursorRejectsGarbage(t *testing.T) {
	for _, token := range []string{"not base64!", "bm90IGpzb24", "eyJpZCI6IiIsImNyZWF0ZWRfYXQiOiIifQ"} {
		_, err := DecodeCursor(token)
		assert.ErrorIs(t, err, apperrors.ErrValidation, token)
	}
}
