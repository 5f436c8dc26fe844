package session_test

import (
	"bytes"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"duplex/internal/crypto"
	"duplex/internal/protocol/ratchet"
	"duplex/internal/session"
)

func TestManager_Lifecycle(t *testing.T) {
	m := session.NewManager(session.Config{
		RotationBytes:    1024,
		RotationInterval: time.Hour,
		Logger:           quiet(),
	})

	pair, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	client, err := m.CreateInitiator(testSecret(), pair.Public)
	require.NoError(t, err)
	daemon, err := m.CreateResponder(testSecret(), pair)
	require.NoError(t, err)
	assert.Equal(t, 2, m.Len())

	got, ok := m.Get(client.ID())
	require.True(t, ok)
	assert.Same(t, client, got)
	_, ok = m.Get(uuid.New())
	assert.False(t, ok)

	// Ping and pong so the client is free to step.
	wire, err := client.EncryptControl([]byte("ping"))
	require.NoError(t, err)
	_, err = daemon.DecryptControl(wire)
	require.NoError(t, err)
	wire, err = daemon.EncryptControl([]byte("pong"))
	require.NoError(t, err)
	_, err = client.DecryptControl(wire)
	require.NoError(t, err)

	// Only the client has spent its byte budget.
	_, err = client.EncryptData(bytes.Repeat([]byte{0x01}, 2048))
	require.NoError(t, err)
	require.True(t, client.NeedsRotation())
	require.False(t, daemon.NeedsRotation())

	assert.Equal(t, 1, m.RotateDue())
	assert.False(t, client.NeedsRotation())
	assert.Equal(t, uint64(3), client.Stats().Data.Generation)

	// Nothing due on a second sweep.
	assert.Equal(t, 0, m.RotateDue())

	require.True(t, m.Remove(client.ID()))
	assert.False(t, m.Remove(client.ID()))
	assert.Equal(t, 1, m.Len())

	m.Close()
	assert.Equal(t, 0, m.Len())
}

func TestManager_RemoveClosesSession(t *testing.T) {
	m := session.NewManager(session.Config{Logger: quiet()})

	pair, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	client, err := m.CreateInitiator(testSecret(), pair.Public)
	require.NoError(t, err)

	require.True(t, m.Remove(client.ID()))
	_, err = client.EncryptControl([]byte("gone"))
	assert.ErrorIs(t, err, ratchet.ErrClosed)
}

func TestManager_RotateDueSkipsBlockedSessions(t *testing.T) {
	m := session.NewManager(session.Config{
		RotationBytes:    16,
		RotationInterval: time.Hour,
		Logger:           quiet(),
	})

	pair, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	client, err := m.CreateInitiator(testSecret(), pair.Public)
	require.NoError(t, err)

	// Budget spent, but the opening step is still unanswered.
	_, err = client.EncryptData(bytes.Repeat([]byte{0x02}, 32))
	require.NoError(t, err)
	require.True(t, client.NeedsRotation())

	assert.Equal(t, 0, m.RotateDue())
	assert.Equal(t, uint64(1), client.Stats().Data.Generation)
}
