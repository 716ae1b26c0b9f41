// Package egress publishes audit progress over Redis pub/sub, the concrete
// transport SPEC_FULL.md §6 fixes for the distilled spec's "named pub/sub
// channel" egress contract. Shaped after the teacher's agent.EventBus
// Publish/Subscribe interface, narrowed to the one direction the pipeline
// actually needs: publish-only, since no pipeline stage consumes its own
// progress stream back.
package egress

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// ProgressMessage is one phase-progress update (SPEC_FULL.md §6).
type ProgressMessage struct {
	AuditID   string `json:"audit_id"`
	Phase     string `json:"phase"`
	Completed int    `json:"completed"`
	Total     int    `json:"total"`
	Timestamp int64  `json:"timestamp"`
	Sequence  int64  `json:"sequence"`
}

// DashboardReadyMessage signals that a DashboardRecord is available.
type DashboardReadyMessage struct {
	AuditID string `json:"audit_id"`
	Event   string `json:"event"`
}

// Bus publishes progress messages for one or more audits over Redis.
type Bus struct {
	client *redis.Client
}

// NewBus wraps an already-connected Redis client.
func NewBus(client *redis.Client) *Bus {
	return &Bus{client: client}
}

func channelFor(auditID string) string {
	return fmt.Sprintf("audit:progress:%s", auditID)
}

// PublishProgress publishes a phase-progress update for an audit.
func (b *Bus) PublishProgress(ctx context.Context, msg ProgressMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("egress: encode progress message: %w", err)
	}
	return b.client.Publish(ctx, channelFor(msg.AuditID), payload).Err()
}

// PublishDashboardReady publishes the dashboard-ready event for an audit.
func (b *Bus) PublishDashboardReady(ctx context.Context, auditID string) error {
	payload, err := json.Marshal(DashboardReadyMessage{AuditID: auditID, Event: "dashboard_ready"})
	if err != nil {
		return fmt.Errorf("egress: encode dashboard-ready message: %w", err)
	}
	return b.client.Publish(ctx, channelFor(auditID), payload).Err()
}

// SequenceCounter hands out a per-audit monotonically increasing sequence
// number for progress messages, since Redis pub/sub delivery order is not
// guaranteed to match publish order across subscribers.
type SequenceCounter struct {
	seq int64
}

// Next returns the next sequence number, starting at 1.
func (c *SequenceCounter) Next() int64 {
	c.seq++
	return c.seq
}
