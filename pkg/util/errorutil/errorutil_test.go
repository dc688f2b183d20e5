package errorutil

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDomainErrorMatchesSentinelByCode(t *testing.T) {
	err := NewAlreadyClaimed("t-1", nil)

	assert.ErrorIs(t, err, ErrAlreadyClaimed)
	assert.NotErrorIs(t, err, ErrNotClaimant)

	wrapped := fmt.Errorf("claim: %w", err)
	assert.ErrorIs(t, wrapped, ErrAlreadyClaimed)
}

func TestAuditWriteErrorIsDegraded(t *testing.T) {
	cause := errors.New("disk full")
	err := NewAuditWriteError(cause, map[string]any{"guild_id": "g1"})

	assert.True(t, IsDegraded(err))
	assert.ErrorIs(t, err, cause)
	assert.False(t, IsDegraded(NewInvalidState("closed", nil)))
}

func TestToDomainErrorMapsNoRowsToNotFound(t *testing.T) {
	de := ToDomainError(pgx.ErrNoRows)
	require.NotNil(t, de)
	assert.Equal(t, CodeNotFound, de.Code)
	assert.Equal(t, http.StatusNotFound, de.HTTPStatus)
}

func TestToDomainErrorFallsBackToInternal(t *testing.T) {
	de := ToDomainError(errors.New("boom"))
	require.NotNil(t, de)
	assert.Equal(t, CodeInternal, de.Code)
	assert.Equal(t, http.StatusInternalServerError, de.HTTPStatus)
	assert.Nil(t, ToDomainError(nil))
}

func TestAlreadyClaimedCarriesClaimant(t *testing.T) {
	holder := "staff-x"
	de := ToDomainError(NewAlreadyClaimed("t-1", &holder))
	assert.Equal(t, "staff-x", de.Details["claimed_by"])
	assert.Equal(t, http.StatusConflict, de.HTTPStatus)
}
