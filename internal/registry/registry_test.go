package registry

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/lmcbridge/internal/events"
	"github.com/mattjoyce/lmcbridge/internal/protocol"
	"github.com/mattjoyce/lmcbridge/internal/supervisor"
)

func TestRegistryLifecycle(t *testing.T) {
	hub := events.NewHub(50)
	r := New(hub)

	release := r.Use("lmc/0", "Mocap connection 0 (vicon)", "vicon")
	r.OnState("lmc/0", supervisor.StateStarting, supervisor.OutcomeNone, nil)
	r.OnState("lmc/0", supervisor.StateRunning, supervisor.OutcomeNone, nil)
	r.OnFrame("lmc/0")
	r.OnFrame("lmc/0")

	c, ok := r.Get("lmc/0")
	require.True(t, ok)
	assert.Equal(t, Purpose, c.Purpose)
	assert.Equal(t, supervisor.StateRunning, c.State)
	assert.Equal(t, int64(2), c.Frames)
	assert.NotNil(t, c.StartedAt)
	assert.NotNil(t, c.LastFrame)
	assert.Equal(t, Counts{Total: 1, Running: 1}, r.Counts())

	remoteErr := &protocol.RemoteError{Message: "hostname not specified"}
	r.OnState("lmc/0", supervisor.StateClosing, supervisor.OutcomeFailed, remoteErr)
	r.OnState("lmc/0", supervisor.StateClosed, supervisor.OutcomeFailed, remoteErr)

	c, _ = r.Get("lmc/0")
	assert.Equal(t, "hostname not specified", c.LastError)
	assert.Equal(t, "remote", c.ErrorKind)
	assert.NotNil(t, c.ClosedAt)
	assert.Equal(t, Counts{Total: 1, Failed: 1}, r.Counts())

	var types []string
	for _, ev := range hub.SnapshotSince(0) {
		types = append(types, ev.Type)
	}
	assert.Equal(t, []string{
		events.ConnectionRegistered,
		events.ConnectionStarting,
		events.ConnectionRunning,
		events.ConnectionFailed,
	}, types)

	snap := hub.SnapshotSince(0)
	var failed map[string]any
	require.NoError(t, json.Unmarshal(snap[len(snap)-1].Data, &failed))
	assert.Equal(t, "remote", failed["kind"])

	release()
	release()
	_, ok = r.Get("lmc/0")
	assert.False(t, ok)
}

func TestRegistryClosedOutcome(t *testing.T) {
	r := New(nil)
	r.Use("lmc/0", "a", "test")
	r.OnState("lmc/0", supervisor.StateClosed, supervisor.OutcomeEnded, nil)

	assert.Equal(t, Counts{Total: 1, Closed: 1}, r.Counts())
}

func TestRegistryIgnoresUnknownIDs(t *testing.T) {
	r := New(nil)
	r.OnState("lmc/9", supervisor.StateRunning, supervisor.OutcomeNone, errors.New("x"))
	r.OnFrame("lmc/9")
	assert.Empty(t, r.Snapshot())
}

func TestRegistrySnapshotOrder(t *testing.T) {
	r := New(nil)
	for _, id := range []string{"lmc/10", "lmc/2", "lmc/0", "lmc/1"} {
		r.Use(id, id, "test")
	}

	var ids []string
	for _, c := range r.Snapshot() {
		ids = append(ids, c.ID)
	}
	assert.Equal(t, []string{"lmc/0", "lmc/1", "lmc/2", "lmc/10"}, ids)
}
