package server

import (
	"context"
	"io"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/fieldlog/internal/accounts"
	"github.com/MarcoPoloResearchLab/fieldlog/internal/stream"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	// ChangeEventName is the SSE event carrying a ChangeMessage.
	ChangeEventName       = "entity-change"
	changeEventHeartbeat  = "heartbeat"
	allEntitiesTopic      = "*"
	defaultHeartbeatEvery = 25 * time.Second
)

// ChangeMessage announces entities written through the mutation API.
type ChangeMessage struct {
	EntityName string    `json:"entityName"`
	Operation  string    `json:"operation"`
	IDs        []int64   `json:"ids"`
	Timestamp  time.Time `json:"timestamp"`
}

// ChangeFeed fans mutation notifications out per entity name.
type ChangeFeed struct {
	broker    *stream.Broker[ChangeMessage]
	heartbeat time.Duration
}

// NewChangeFeed builds a feed; a non-positive heartbeat uses the default.
func NewChangeFeed(heartbeat time.Duration) *ChangeFeed {
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeatEvery
	}
	return &ChangeFeed{
		broker:    stream.NewBroker[ChangeMessage](),
		heartbeat: heartbeat,
	}
}

// Subscribe listens for changes of entityName, or of every entity when empty.
func (f *ChangeFeed) Subscribe(ctx context.Context, entityName string) (<-chan ChangeMessage, func()) {
	return f.broker.Subscribe(ctx, topicOf(entityName))
}

// Publish notifies listeners of the entity and catch-all listeners.
func (f *ChangeFeed) Publish(message ChangeMessage) {
	if message.EntityName == "" || message.Operation == "" {
		return
	}
	f.broker.Publish(topicOf(message.EntityName), message)
	f.broker.Publish(allEntitiesTopic, message)
}

// Listeners reports the subscribers of entityName.
func (f *ChangeFeed) Listeners(entityName string) int {
	return f.broker.SubscriberCount(topicOf(entityName))
}

func topicOf(entityName string) string {
	name := strings.TrimSpace(entityName)
	if name == "" {
		return allEntitiesTopic
	}
	return name
}

func (h *httpHandler) handleChangeStream(c *gin.Context) {
	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	entityName := c.Query("entity")
	messages, cleanup := h.changes.Subscribe(ctx, entityName)
	defer cleanup()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	heartbeat := time.NewTicker(h.changes.heartbeat)
	defer heartbeat.Stop()

	account, _ := currentAccount(c)
	h.logger.Debug("change stream opened", zap.Int64("person_id", personIDOf(account)), zap.String("entity", entityName))

	// Establish the stream before the first change arrives.
	c.SSEvent(changeEventHeartbeat, gin.H{"timestamp": time.Now().UTC()})
	c.Writer.Flush()

	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case message, ok := <-messages:
			if !ok {
				return false
			}
			c.SSEvent(ChangeEventName, message)
			return true
		case tick := <-heartbeat.C:
			c.SSEvent(changeEventHeartbeat, gin.H{"timestamp": tick.UTC()})
			return true
		}
	})
	h.logger.Debug("change stream closed", zap.Int64("person_id", personIDOf(account)), zap.String("entity", entityName))
}

func personIDOf(account accounts.Account) int64 {
	if account.Person.ID == nil {
		return 0
	}
	return *account.Person.ID
}
