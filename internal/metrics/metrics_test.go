package metrics

import (
	"testing"
	"time"

	"github.com/dimspell/tavern/internal/events"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterTwice(t *testing.T) {
	assert.NotPanics(t, func() {
		Register()
		Register()
	})
}

func TestSubscribe(t *testing.T) {
	bus := events.NewBus()
	defer bus.Close()

	unsubscribe := Subscribe(bus)
	defer unsubscribe()

	created := testutil.ToFloat64(SessionsCreated)
	migrations := testutil.ToFloat64(HostMigrations)

	events.Publish(bus, events.SessionCreated{SessionID: "s1", HostID: "u1"})
	events.Publish(bus, events.HostChanged{SessionID: "s1", NewHostID: "u2"})

	require.Eventually(t, func() bool {
		return testutil.ToFloat64(SessionsCreated) == created+1 &&
			testutil.ToFloat64(HostMigrations) == migrations+1
	}, 2*time.Second, 10*time.Millisecond)
}
