package registry

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"seatlock/internal/authority"
)

func TestHeartbeatSenderDeliversBeats(t *testing.T) {
	store := authority.NewMemoryStore()
	srv := authority.NewServer(store, testAPIKey, "admin-"+testAPIKey, discardLogger())
	ts := httptest.NewServer(srv.Routes())
	defer ts.Close()

	client := newClient(ts.URL)
	_, err := client.Activate(context.Background(), testKey, fpA)
	require.NoError(t, err)

	sender := NewHeartbeatSender(client, 20*time.Millisecond, discardLogger())
	sender.Start(testKey, fpA)
	defer sender.Stop()

	require.Eventually(t, func() bool {
		_, _, heartbeats := store.Stats(context.Background())
		return heartbeats >= 2
	}, 2*time.Second, 10*time.Millisecond)
}

func TestHeartbeatSenderStopIsIdempotent(t *testing.T) {
	sender := NewHeartbeatSender(newClient("http://127.0.0.1:1"), time.Hour, discardLogger())

	sender.Stop()
	assert.False(t, sender.Running())

	sender.Start(testKey, fpA)
	assert.True(t, sender.Running())

	sender.Stop()
	sender.Stop()
	assert.False(t, sender.Running())
}

func TestHeartbeatSenderRestartReplacesLoop(t *testing.T) {
	sender := NewHeartbeatSender(newClient("http://127.0.0.1:1"), time.Hour, discardLogger())
	defer sender.Stop()

	sender.Start(testKey, fpA)
	sender.Start(testKey, fpB)
	assert.True(t, sender.Running())
}

func TestHeartbeatSenderSurvivesFailures(t *testing.T) {
	// Unreachable authority: the loop must keep running and never panic.
	sender := NewHeartbeatSender(newClient("http://127.0.0.1:1"), 10*time.Millisecond, discardLogger())
	sender.Start(testKey, fpA)

	time.Sleep(50 * time.Millisecond)
	assert.True(t, sender.Running())
	sender.Stop()
}
