package server

import (
	"context"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/sololeveling/internal/offline"
	"github.com/MarcoPoloResearchLab/sololeveling/internal/progression"
	"github.com/google/uuid"
)

const (
	RealtimeEventLevelUp      = "level-up"
	RealtimeEventNotification = "notification"
	realtimeEventHeartbeat    = "heartbeat"
)

// RealtimeMessage is a single event delivered to stream subscribers.
type RealtimeMessage struct {
	ID        string
	EventType string
	Payload   interface{}
	Timestamp time.Time
}

type levelUpPayload struct {
	NewLevel int              `json:"newLevel"`
	Rank     progression.Rank `json:"rank"`
	Gold     int              `json:"gold"`
	Title    string           `json:"title"`
}

// RealtimeDispatcher fans level-up and notification events out to every
// open event stream. Messages travel in bursts: everything produced by one
// operation is delivered together or not at all. Slow subscribers drop
// whole bursts instead of blocking publishers.
type RealtimeDispatcher struct {
	mu          sync.RWMutex
	subscribers map[int64]*realtimeSubscriber
	nextID      int64
	bufferSize  int
	clock       func() time.Time
}

type realtimeSubscriber struct {
	id     int64
	stream chan []RealtimeMessage
}

func NewRealtimeDispatcher() *RealtimeDispatcher {
	return &RealtimeDispatcher{
		subscribers: make(map[int64]*realtimeSubscriber),
		bufferSize:  16,
		clock:       time.Now,
	}
}

// Subscribe registers a stream of message bursts. The subscription ends when
// ctx is cancelled or the returned cleanup is called.
func (d *RealtimeDispatcher) Subscribe(ctx context.Context) (<-chan []RealtimeMessage, func()) {
	subscriber := &realtimeSubscriber{
		stream: make(chan []RealtimeMessage, d.bufferSize),
	}
	d.registerSubscriber(subscriber)
	var once sync.Once
	cleanup := func() {
		once.Do(func() {
			d.unregisterSubscriber(subscriber.id)
		})
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return subscriber.stream, cleanup
}

// Publish delivers a single message as its own burst.
func (d *RealtimeDispatcher) Publish(message RealtimeMessage) {
	d.publishBurst([]RealtimeMessage{message})
}

func (d *RealtimeDispatcher) publishBurst(messages []RealtimeMessage) {
	burst := make([]RealtimeMessage, 0, len(messages))
	now := d.clock().UTC()
	for _, message := range messages {
		if message.EventType == "" {
			continue
		}
		if message.ID == "" {
			message.ID = newEventID()
		}
		if message.Timestamp.IsZero() {
			message.Timestamp = now
		}
		burst = append(burst, message)
	}
	if len(burst) == 0 {
		return
	}

	d.mu.RLock()
	copies := make([]*realtimeSubscriber, 0, len(d.subscribers))
	for _, subscriber := range d.subscribers {
		copies = append(copies, subscriber)
	}
	d.mu.RUnlock()
	for _, subscriber := range copies {
		select {
		case subscriber.stream <- burst:
		default:
		}
	}
}

// NotifyLevelUps publishes one level-up event per level gained, in order,
// as a single burst.
func (d *RealtimeDispatcher) NotifyLevelUps(_ context.Context, player progression.Player, events []progression.LevelUp) {
	gold := player.Gold - len(events)*progression.GoldPerLevel
	messages := make([]RealtimeMessage, 0, len(events))
	for _, event := range events {
		gold += progression.GoldPerLevel
		messages = append(messages, RealtimeMessage{
			EventType: RealtimeEventLevelUp,
			Payload: levelUpPayload{
				NewLevel: event.NewLevel,
				Rank:     event.Rank,
				Gold:     gold,
				Title:    player.Title,
			},
		})
	}
	d.publishBurst(messages)
}

// ShowNotification publishes a push notification to open streams.
func (d *RealtimeDispatcher) ShowNotification(_ context.Context, notification offline.Notification) error {
	d.Publish(RealtimeMessage{
		EventType: RealtimeEventNotification,
		Payload:   notification,
	})
	return nil
}

func (d *RealtimeDispatcher) subscriberCount() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.subscribers)
}

func (d *RealtimeDispatcher) registerSubscriber(subscriber *realtimeSubscriber) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	subscriber.id = d.nextID
	d.subscribers[subscriber.id] = subscriber
}

func (d *RealtimeDispatcher) unregisterSubscriber(subscriberID int64) {
	d.mu.Lock()
	delete(d.subscribers, subscriberID)
	d.mu.Unlock()
}

func newEventID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
