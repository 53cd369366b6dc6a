// Package stream provides real-time distribution of dashboard snapshots.
package stream

import (
	"context"
	"sync"
	"time"

	"watchlist-dashboard/internal/models"
)

// AllInstances subscribes to snapshots from every dashboard instance.
const AllInstances = ""

// HubConfig holds configuration for the Stream Hub.
type HubConfig struct {
	// BufferSize is the size of the internal snapshot channel buffer.
	BufferSize int
	// SubscriberBufferSize is the size of each subscriber's channel buffer.
	SubscriberBufferSize int
}

// DefaultHubConfig returns the default hub configuration.
func DefaultHubConfig() HubConfig {
	return HubConfig{
		BufferSize:           64,
		SubscriberBufferSize: 4,
	}
}

// Hub fans snapshots from pollers out to subscribers via channels. A
// subscriber that falls behind loses its oldest pending snapshot, never the
// newest.
type Hub struct {
	config      HubConfig
	mu          sync.RWMutex
	subscribers map[string][]*Subscriber
	snapChan    chan models.Snapshot
	done        chan struct{}
	started     bool
	latest      map[string]models.Snapshot

	// Metrics
	received  uint64
	broadcast uint64
	dropped   uint64
	metricsMu sync.RWMutex
}

// Subscriber represents a channel subscriber with metadata.
type Subscriber struct {
	ID           string
	Instance     string
	Channel      chan models.Snapshot
	DroppedCount int
	CreatedAt    time.Time
}

// NewHub creates a new stream hub with default configuration.
func NewHub() *Hub {
	return NewHubWithConfig(DefaultHubConfig())
}

// NewHubWithConfig creates a new stream hub with custom configuration.
func NewHubWithConfig(config HubConfig) *Hub {
	if config.BufferSize <= 0 {
		config.BufferSize = DefaultHubConfig().BufferSize
	}
	if config.SubscriberBufferSize <= 0 {
		config.SubscriberBufferSize = 1
	}
	return &Hub{
		config:      config,
		subscribers: make(map[string][]*Subscriber),
		snapChan:    make(chan models.Snapshot, config.BufferSize),
		done:        make(chan struct{}),
		latest:      make(map[string]models.Snapshot),
	}
}

// Start begins the hub's distribution loop.
func (h *Hub) Start(ctx context.Context) error {
	h.mu.Lock()
	if h.started {
		h.mu.Unlock()
		return nil
	}
	h.started = true
	h.mu.Unlock()

	go h.broadcastLoop(ctx)
	return nil
}

// broadcastLoop is the main loop that distributes snapshots to subscribers.
func (h *Hub) broadcastLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-h.done:
			return
		case snap := <-h.snapChan:
			h.metricsMu.Lock()
			h.received++
			h.metricsMu.Unlock()

			h.deliver(snap)
		}
	}
}

// Stop stops the hub and closes all subscriber channels.
func (h *Hub) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.started {
		return
	}

	close(h.done)
	h.started = false

	for instance, subs := range h.subscribers {
		for _, sub := range subs {
			close(sub.Channel)
		}
		delete(h.subscribers, instance)
	}
}

// Subscribe adds a subscriber for one dashboard instance, or AllInstances.
func (h *Hub) Subscribe(instance string) <-chan models.Snapshot {
	return h.SubscribeWithID(instance, "")
}

// SubscribeWithID adds a subscriber with a specific ID.
func (h *Hub) SubscribeWithID(instance, id string) <-chan models.Snapshot {
	ch := make(chan models.Snapshot, h.config.SubscriberBufferSize)
	sub := &Subscriber{
		ID:        id,
		Instance:  instance,
		Channel:   ch,
		CreatedAt: time.Now(),
	}

	h.mu.Lock()
	h.subscribers[instance] = append(h.subscribers[instance], sub)
	h.mu.Unlock()

	return ch
}

// Unsubscribe removes and closes a subscriber channel.
func (h *Hub) Unsubscribe(instance string, ch <-chan models.Snapshot) {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs := h.subscribers[instance]
	for i, sub := range subs {
		if sub.Channel == ch {
			close(sub.Channel)
			h.subscribers[instance] = append(subs[:i], subs[i+1:]...)
			break
		}
	}

	if len(h.subscribers[instance]) == 0 {
		delete(h.subscribers, instance)
	}
}

// Publish queues a snapshot for distribution. Non-blocking: if the internal
// buffer is full the snapshot is dropped and counted.
func (h *Hub) Publish(snap models.Snapshot) {
	snap = snap.Clone()

	h.mu.Lock()
	h.latest[snap.Instance] = snap
	h.mu.Unlock()

	select {
	case h.snapChan <- snap:
	default:
		h.metricsMu.Lock()
		h.dropped++
		h.metricsMu.Unlock()
	}
}

// Latest returns the most recently published snapshot for instance.
func (h *Hub) Latest(instance string) (models.Snapshot, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	snap, ok := h.latest[instance]
	if !ok {
		return models.Snapshot{}, false
	}
	return snap.Clone(), true
}

// deliver sends a snapshot to the instance's subscribers and to the
// AllInstances subscribers. The read lock is held across the sends so that
// Unsubscribe cannot close a channel mid-send; sends never block.
func (h *Hub) deliver(snap models.Snapshot) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	h.sendTo(h.subscribers[snap.Instance], snap)
	if snap.Instance != AllInstances {
		h.sendTo(h.subscribers[AllInstances], snap)
	}
}

func (h *Hub) sendTo(subs []*Subscriber, snap models.Snapshot) {
	for _, sub := range subs {
		select {
		case sub.Channel <- snap.Clone():
			h.metricsMu.Lock()
			h.broadcast++
			h.metricsMu.Unlock()
			continue
		default:
		}

		// Slow consumer: discard the oldest pending snapshot to make room.
		select {
		case <-sub.Channel:
		default:
		}
		sub.DroppedCount++
		h.metricsMu.Lock()
		h.dropped++
		h.metricsMu.Unlock()

		select {
		case sub.Channel <- snap.Clone():
			h.metricsMu.Lock()
			h.broadcast++
			h.metricsMu.Unlock()
		default:
		}
	}
}

// GetSubscriberCount returns the number of subscribers for an instance.
func (h *Hub) GetSubscriberCount(instance string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers[instance])
}

// GetTotalSubscriberCount returns the total number of subscribers.
func (h *Hub) GetTotalSubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	count := 0
	for _, subs := range h.subscribers {
		count += len(subs)
	}
	return count
}

// GetMetrics returns hub metrics.
func (h *Hub) GetMetrics() HubMetrics {
	h.metricsMu.RLock()
	defer h.metricsMu.RUnlock()

	return HubMetrics{
		SnapshotsReceived:  h.received,
		SnapshotsBroadcast: h.broadcast,
		SnapshotsDropped:   h.dropped,
		Subscribers:        h.GetTotalSubscriberCount(),
	}
}

// HubMetrics contains hub performance metrics.
type HubMetrics struct {
	SnapshotsReceived  uint64 `json:"snapshotsReceived"`
	SnapshotsBroadcast uint64 `json:"snapshotsBroadcast"`
	SnapshotsDropped   uint64 `json:"snapshotsDropped"`
	Subscribers        int    `json:"subscribers"`
}

// IsStarted returns whether the hub is running.
func (h *Hub) IsStarted() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.started
}
