// Package eventbus fans events out to in-process subscribers (the
// websocket hub in internal/rpc) and, when configured, bridges them to a
// Redis pub/sub channel for out-of-process consumers (SPEC_FULL §4.J).
// The in-process broadcast idiom — a registry of subscriber channels under
// a mutex, non-blocking sends — is grounded on the teacher pack's
// websocket Hub (vincent99-velocipi server/hub.go).
package eventbus

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Kind discriminates event payloads.
type Kind string

const (
	KindStreamReady       Kind = "stream-ready"
	KindStreamDead        Kind = "stream-dead"
	KindRecordingFinalized Kind = "recording-finalized"
)

// Event is the envelope every subscriber receives.
type Event struct {
	Kind     Kind            `json:"kind"`
	CameraID int64           `json:"camera_id"`
	Data     json.RawMessage `json:"data,omitempty"`
}

// StreamReadyData is Event.Data for KindStreamReady.
type StreamReadyData struct {
	PlaylistPath string `json:"playlist_path"`
}

// StreamDeadData is Event.Data for KindStreamDead.
type StreamDeadData struct {
	Reason string `json:"reason"`
}

// RecordingFinalizedData is Event.Data for KindRecordingFinalized.
type RecordingFinalizedData struct {
	RecordingID int64 `json:"recording_id"`
}

const redisChannel = "camdeck:events"

// Bus fans out published events to every active subscriber.
type Bus struct {
	log *zap.Logger

	mu   sync.RWMutex
	subs map[chan Event]struct{}

	redis *redis.Client
}

// New builds a Bus. If redisAddr is non-empty, published events are also
// mirrored to a Redis pub/sub channel so a second process (or a future
// multi-host deployment) can observe them; redisAddr empty means
// in-process fan-out only.
func New(redisAddr string, log *zap.Logger) *Bus {
	if log == nil {
		log = zap.NewNop()
	}
	b := &Bus{log: log, subs: make(map[chan Event]struct{})}
	if redisAddr != "" {
		b.redis = redis.NewClient(&redis.Options{Addr: redisAddr})
	}
	return b
}

// Subscribe registers a new subscriber channel. Callers must call the
// returned unsubscribe func when done. The channel is buffered; a slow
// subscriber drops events rather than blocking the publisher.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, 32)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	return ch, func() {
		b.mu.Lock()
		if _, ok := b.subs[ch]; ok {
			delete(b.subs, ch)
			close(ch)
		}
		b.mu.Unlock()
	}
}

// Publish fans evt out to every in-process subscriber and, if Redis is
// configured, publishes it to the shared channel too.
func (b *Bus) Publish(ctx context.Context, evt Event) {
	b.mu.RLock()
	snapshot := make([]chan Event, 0, len(b.subs))
	for ch := range b.subs {
		snapshot = append(snapshot, ch)
	}
	b.mu.RUnlock()

	for _, ch := range snapshot {
		select {
		case ch <- evt:
		default:
			b.log.Warn("eventbus: dropping event for slow subscriber", zap.String("kind", string(evt.Kind)))
		}
	}

	if b.redis == nil {
		return
	}
	payload, err := json.Marshal(evt)
	if err != nil {
		b.log.Error("eventbus: failed to marshal event for redis", zap.Error(err))
		return
	}
	if err := b.redis.Publish(ctx, redisChannel, payload).Err(); err != nil {
		b.log.Warn("eventbus: redis publish failed", zap.Error(err))
	}
}

// Close releases the Redis client, if one was configured.
func (b *Bus) Close() error {
	if b.redis == nil {
		return nil
	}
	return b.redis.Close()
}
