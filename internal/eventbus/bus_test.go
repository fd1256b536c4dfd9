package eventbus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishFansOut(t *testing.T) {
	b := New()
	a, unsubA := b.Subscribe(4)
	c, unsubC := b.Subscribe(4)
	defer unsubA()
	defer unsubC()

	b.Publish(Event{Type: SubscriptionSubscribed, Data: ChannelEvent{ChannelID: 42}})

	for _, ch := range []<-chan Event{a, c} {
		e := <-ch
		assert.Equal(t, SubscriptionSubscribed, e.Type)
		assert.False(t, e.Time.IsZero())
		require.IsType(t, ChannelEvent{}, e.Data)
		assert.Equal(t, int64(42), e.Data.(ChannelEvent).ChannelID)
	}
}

func TestSlowSubscriberDrops(t *testing.T) {
	b := New()
	_, unsub := b.Subscribe(1)
	defer unsub()

	b.Publish(Event{Type: SubscriptionFired})
	b.Publish(Event{Type: SubscriptionFired})
	assert.Equal(t, uint64(1), b.Dropped())
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe(1)
	unsub()
	unsub()
	_, ok := <-ch
	assert.False(t, ok)
	b.Publish(Event{Type: SubscriptionUnsubscribed})
}
