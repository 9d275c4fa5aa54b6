package eventbus

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishFansOutToAllSubscribers(t *testing.T) {
	b := New("", nil)
	defer b.Close()

	ch1, unsub1 := b.Subscribe()
	defer unsub1()
	ch2, unsub2 := b.Subscribe()
	defer unsub2()

	b.Publish(context.Background(), Event{Kind: KindStreamReady, CameraID: 7})

	for _, ch := range []<-chan Event{ch1, ch2} {
		select {
		case evt := <-ch:
			assert.Equal(t, KindStreamReady, evt.Kind)
			assert.Equal(t, int64(7), evt.CameraID)
		case <-time.After(time.Second):
			t.Fatal("subscriber did not receive event")
		}
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := New("", nil)
	defer b.Close()

	ch, unsub := b.Subscribe()
	unsub()

	b.Publish(context.Background(), Event{Kind: KindStreamDead, CameraID: 1})

	_, ok := <-ch
	assert.False(t, ok, "channel should be closed after unsubscribe")
}

func TestPublishBridgesToRedisWhenConfigured(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	b := New(mr.Addr(), nil)
	defer b.Close()

	sub := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer sub.Close()
	pubsub := sub.Subscribe(context.Background(), redisChannel)
	defer pubsub.Close()
	_, err = pubsub.Receive(context.Background())
	require.NoError(t, err)

	b.Publish(context.Background(), Event{Kind: KindRecordingFinalized, CameraID: 3})

	select {
	case msg := <-pubsub.Channel():
		assert.Contains(t, msg.Payload, `"recording-finalized"`)
		assert.Contains(t, msg.Payload, `"camera_id":3`)
	case <-time.After(time.Second):
		t.Fatal("expected a message on the redis channel")
	}
}
