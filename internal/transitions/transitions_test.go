package transitions

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/notifyhub/dispatch/internal/models"
)

func TestIsValid_AllowedMoves(t *testing.T) {
	cases := []struct {
		from, to models.Status
	}{
		{models.StatusScheduled, models.StatusPending},
		{models.StatusScheduled, models.StatusFailed},
		{models.StatusPending, models.StatusSent},
		{models.StatusPending, models.StatusRetrying},
		{models.StatusRetrying, models.StatusPending},
		{models.StatusRetrying, models.StatusDelivered},
		{models.StatusSent, models.StatusDelivered},
		{models.StatusSent, models.StatusBounced},
		{models.StatusFailed, models.StatusRetrying},
	}
	for _, c := range cases {
		assert.Truef(t, IsValid(c.from, c.to), "%s -> %s should be valid", c.from, c.to)
	}
}

func TestIsValid_RejectsTerminalEscape(t *testing.T) {
	terminals := []models.Status{models.StatusDelivered, models.StatusBounced, models.StatusRejected}
	for _, from := range terminals {
		assert.False(t, IsValid(from, models.StatusPending))
		assert.True(t, IsTerminal(from))
	}
}

func TestIsValid_RejectsSkippingQueue(t *testing.T) {
	assert.False(t, IsValid(models.StatusScheduled, models.StatusSent))
	assert.False(t, IsValid(models.StatusScheduled, models.StatusDelivered))
}

func TestIsValid_FailedOnlyReachesRetryingDirectly(t *testing.T) {
	assert.True(t, IsValid(models.StatusFailed, models.StatusRetrying))
	assert.False(t, IsValid(models.StatusFailed, models.StatusPending))
	assert.False(t, IsValid(models.StatusFailed, models.StatusSent))
}

func TestValidate_ReturnsSentinelOnReject(t *testing.T) {
	err := Validate(models.StatusDelivered, models.StatusPending)
	assert.ErrorIs(t, err, models.ErrInvalidTransition)
}

func TestIsTerminal_NonTerminalStatuses(t *testing.T) {
	for _, s := range []models.Status{models.StatusScheduled, models.StatusPending, models.StatusRetrying, models.StatusSent, models.StatusFailed} {
		assert.False(t, IsTerminal(s), "%s should not be terminal", s)
	}
}
