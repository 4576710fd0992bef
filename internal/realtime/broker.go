package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	redisclient "github.com/unbound/trust-relay-go/internal/redis"
)

const (
	HeartbeatInterval = 30 * time.Second
)

// Event types pushed to connected devices and browsers.
const (
	EventDeviceUpdated     = "device.updated"
	EventTrustUpdated      = "trust.updated"
	EventRunUpdated        = "run.updated"
	EventViewerJoined      = "viewer.joined"
	EventViewerLeft        = "viewer.left"
	EventSessionAuthorized = "session.authorized"
	EventSessionRevoked    = "session.revoked"
)

type Event struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewEvent marshals payload into a timestamped event. Marshal failures
// are programmer errors and surface as an empty data object.
func NewEvent(eventType string, payload any) Event {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Str("type", eventType).Msg("failed to marshal event payload")
		data = []byte("{}")
	}
	return Event{Type: eventType, Data: data, Timestamp: time.Now()}
}

// Publisher is the service-facing side of the broker.
type Publisher interface {
	Publish(ctx context.Context, userID string, event Event) error
}

type Client struct {
	UserID string
	Events chan Event
	Done   chan struct{}
}

// userChannel holds one user's connected clients together with the
// redis subscription feeding them. The subscription lives exactly as
// long as the user has at least one client.
type userChannel struct {
	clients map[*Client]bool
	pubsub  *redis.PubSub
}

// Broker fans events out to every connected client of a user. Events
// travel through redis pub/sub so all server instances see them.
type Broker struct {
	redis    *redisclient.Client
	channels map[string]*userChannel
	mu       sync.RWMutex
	ctx      context.Context
	cancel   context.CancelFunc
}

func NewBroker(redisClient *redisclient.Client) *Broker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Broker{
		redis:    redisClient,
		channels: make(map[string]*userChannel),
		ctx:      ctx,
		cancel:   cancel,
	}
}

func (b *Broker) Subscribe(userID string) *Client {
	client := &Client{
		UserID: userID,
		Events: make(chan Event, 100),
		Done:   make(chan struct{}),
	}

	b.mu.Lock()
	ch := b.channels[userID]
	if ch == nil {
		ch = &userChannel{
			clients: make(map[*Client]bool),
			pubsub:  b.redis.Subscribe(b.ctx, redisclient.UserChannel(userID)),
		}
		b.channels[userID] = ch
		go b.forward(userID, ch.pubsub)
	}
	ch.clients[client] = true
	clientCount := len(ch.clients)
	b.mu.Unlock()

	log.Info().
		Str("userId", userID).
		Int("clientCount", clientCount).
		Msg("event client subscribed")

	return client
}

func (b *Broker) Unsubscribe(client *Client) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch, ok := b.channels[client.UserID]
	if !ok {
		return
	}

	delete(ch.clients, client)
	close(client.Done)

	// Closing the pubsub ends the forwarding goroutine. A later
	// subscribe for this user opens a fresh subscription.
	if len(ch.clients) == 0 {
		if err := ch.pubsub.Close(); err != nil {
			log.Warn().Err(err).Str("userId", client.UserID).Msg("failed to close redis pubsub")
		}
		delete(b.channels, client.UserID)
	}

	log.Info().
		Str("userId", client.UserID).
		Int("clientCount", len(ch.clients)).
		Msg("event client unsubscribed")
}

func (b *Broker) Publish(ctx context.Context, userID string, event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	channel := redisclient.UserChannel(userID)
	return b.redis.Publish(ctx, channel, data).Err()
}

func (b *Broker) forward(userID string, pubsub *redis.PubSub) {
	log.Debug().
		Str("userId", userID).
		Str("channel", redisclient.UserChannel(userID)).
		Msg("redis pubsub subscribed")

	ch := pubsub.Channel()

	for {
		select {
		case <-b.ctx.Done():
			return

		case msg, ok := <-ch:
			if !ok {
				return
			}

			var event Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				log.Error().Err(err).Msg("failed to unmarshal event")
				continue
			}

			b.broadcast(userID, event)
		}
	}
}

func (b *Broker) broadcast(userID string, event Event) {
	b.mu.RLock()
	var clients []*Client
	if ch, ok := b.channels[userID]; ok {
		for client := range ch.clients {
			clients = append(clients, client)
		}
	}
	b.mu.RUnlock()

	for _, client := range clients {
		select {
		case client.Events <- event:
		default:
			log.Warn().
				Str("userId", userID).
				Msg("client event buffer full, dropping event")
		}
	}
}

func (b *Broker) Close() {
	b.cancel()

	b.mu.Lock()
	defer b.mu.Unlock()

	for _, ch := range b.channels {
		ch.pubsub.Close()
		for client := range ch.clients {
			close(client.Done)
		}
	}
	b.channels = make(map[string]*userChannel)
}

func (b *Broker) ClientCount(userID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if ch, ok := b.channels[userID]; ok {
		return len(ch.clients)
	}
	return 0
}

func (b *Broker) TotalClients() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	total := 0
	for _, ch := range b.channels {
		total += len(ch.clients)
	}
	return total
}
