package peer

import (
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
)

func TestLinearBackOff(t *testing.T) {
	b := NewLinearBackOff(2*time.Second, 3)

	assert.Equal(t, 2*time.Second, b.NextBackOff())
	assert.Equal(t, 4*time.Second, b.NextBackOff())
	assert.Equal(t, 6*time.Second, b.NextBackOff())
	assert.Equal(t, backoff.Stop, b.NextBackOff())
	assert.Equal(t, 4, b.Attempt())

	b.Reset()
	assert.Equal(t, 0, b.Attempt())
	assert.Equal(t, 2*time.Second, b.NextBackOff())
}

func TestState_InHandshake(t *testing.T) {
	assert.True(t, StateOffering.InHandshake())
	assert.True(t, StateExchangingCandidates.InHandshake())
	assert.False(t, StateConnected.InHandshake())
	assert.False(t, StateFailed.InHandshake())
	assert.Equal(t, "AwaitingAnswer", StateAwaitingAnswer.String())
}
