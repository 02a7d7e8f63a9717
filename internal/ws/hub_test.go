package ws

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/botdeployer/deployer/internal/deploy"
)

func TestHub_PublishToSubscriber(t *testing.T) {
	hub := NewHub(nil)
	updates, cancel := hub.Subscribe("d1")
	defer cancel()
	other, cancelOther := hub.Subscribe("d2")
	defer cancelOther()

	hub.Publish(deploy.Update{ID: "d1", Log: "line", Index: 1})

	select {
	case u := <-updates:
		assert.Equal(t, "line", u.Log)
	default:
		t.Fatal("expected update for d1")
	}
	select {
	case u := <-other:
		t.Fatalf("unexpected update for d2: %+v", u)
	default:
	}
}

func TestHub_SlowSubscriberDropped(t *testing.T) {
	hub := NewHub(nil)
	updates, cancel := hub.Subscribe("d1")

	for i := 0; i < subscriberBuffer+1; i++ {
		hub.Publish(deploy.Update{ID: "d1", Index: i})
	}
	assert.Equal(t, 0, hub.Subscribers("d1"))

	n := 0
	for range updates {
		n++
	}
	assert.Equal(t, subscriberBuffer, n)

	// cancelling after the hub dropped us must not panic
	cancel()
	cancel()
}

func TestHub_Unsubscribe(t *testing.T) {
	hub := NewHub(nil)
	updates, cancel := hub.Subscribe("d1")
	require.Equal(t, 1, hub.Subscribers("d1"))

	cancel()
	assert.Equal(t, 0, hub.Subscribers("d1"))
	_, open := <-updates
	assert.False(t, open)

	hub.Publish(deploy.Update{ID: "d1"})
}
