// Package pubsub carries control-plane events on the "mcp-commands" topic.
// It substitutes github.com/redis/go-redis/v9 for the original system's
// Ably channel, since no Go Ably SDK exists to ground that choice on; the
// topic name, event name, and payload shape are kept identical to the
// original.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/redis/go-redis/v9"
)

// Topic is the channel every mcpbridge process publishes/subscribes on.
const Topic = "mcp-commands"

// Action is the control-plane action carried in an Update event.
type Action string

const (
	ActionConnect    Action = "CONNECT"
	ActionDisconnect Action = "DISCONNECT"
	ActionUpdate     Action = "UPDATE"
)

// EndpointRef is the endpoint identity carried alongside an Update event.
type EndpointRef struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	URL  string `json:"url"`
}

// Update is the payload published for the "update" event.
type Update struct {
	Action   Action      `json:"action"`
	Endpoint EndpointRef `json:"endpoint"`
}

// envelope wraps Update with the event name, matching the Ably
// "event: update" framing used by the original system's channel.
type envelope struct {
	Event string `json:"event"`
	Data  Update `json:"data"`
}

// Client wraps a Redis connection for publishing and subscribing to
// control-plane events.
type Client struct {
	rdb *redis.Client
}

// New dials addr (host:port) and optionally authenticates with password,
// selecting db.
func New(addr, password string, db int) *Client {
	return &Client{
		rdb: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
			DB:       db,
		}),
	}
}

// Publish sends an Update on the mcp-commands topic.
func (c *Client) Publish(ctx context.Context, upd Update) error {
	payload, err := json.Marshal(envelope{Event: "update", Data: upd})
	if err != nil {
		return fmt.Errorf("marshal update: %w", err)
	}
	if err := c.rdb.Publish(ctx, Topic, payload).Err(); err != nil {
		return fmt.Errorf("publish update: %w", err)
	}
	return nil
}

// Subscribe listens on the mcp-commands topic and invokes onUpdate for
// every "update" event received, until ctx is cancelled.
func (c *Client) Subscribe(ctx context.Context, onUpdate func(Update)) error {
	sub := c.rdb.Subscribe(ctx, Topic)
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var env envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				log.Printf("pubsub: discarding malformed message: %v", err)
				continue
			}
			if env.Event != "update" {
				continue
			}
			onUpdate(env.Data)
		}
	}
}

// Close releases the underlying Redis connection.
func (c *Client) Close() error {
	return c.rdb.Close()
}
