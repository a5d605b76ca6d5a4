package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/noah-isme/concours-api/internal/models"
)

// EventStreamRepository appends domain events to a redis stream.
type EventStreamRepository struct {
	client *redis.Client
	stream string
	maxLen int64
}

// NewEventStreamRepository constructs the repository. maxLen <= 0 disables trimming.
func NewEventStreamRepository(client *redis.Client, stream string, maxLen int64) *EventStreamRepository {
	if stream == "" {
		stream = "concours:events"
	}
	return &EventStreamRepository{client: client, stream: stream, maxLen: maxLen}
}

// Append writes the event with XADD and returns the stream entry id.
func (r *EventStreamRepository) Append(ctx context.Context, event models.DomainEvent) (string, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return "", fmt.Errorf("marshal event: %w", err)
	}
	args := &redis.XAddArgs{
		Stream: r.stream,
		Values: map[string]interface{}{
			"id":           event.ID,
			"type":         string(event.Type),
			"candidate_id": event.CandidateID,
			"payload":      string(payload),
		},
	}
	if r.maxLen > 0 {
		args.MaxLen = r.maxLen
		args.Approx = true
	}
	entryID, err := r.client.XAdd(ctx, args).Result()
	if err != nil {
		return "", fmt.Errorf("append event %s: %w", event.Type, err)
	}
	return entryID, nil
}

// Read returns up to count events recorded after lastID ("0" reads from the start).
func (r *EventStreamRepository) Read(ctx context.Context, lastID string, count int64) ([]models.DomainEvent, string, error) {
	start := "-"
	if lastID != "" && lastID != "0" {
		start = "(" + lastID
	}
	entries, err := r.client.XRangeN(ctx, r.stream, start, "+", count).Result()
	if err != nil {
		return nil, lastID, fmt.Errorf("read events: %w", err)
	}
	events := make([]models.DomainEvent, 0, len(entries))
	for _, entry := range entries {
		raw, _ := entry.Values["payload"].(string)
		var event models.DomainEvent
		if err := json.Unmarshal([]byte(raw), &event); err != nil {
			return nil, lastID, fmt.Errorf("decode event %s: %w", entry.ID, err)
		}
		events = append(events, event)
		lastID = entry.ID
	}
	return events, lastID, nil
}
