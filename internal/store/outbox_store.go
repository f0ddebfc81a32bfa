package store

import (
	"context"
	"encoding/json"

	"github.com/pocketbase/dbx"
	"github.com/pocketbase/pocketbase/core"
	"github.com/pocketbase/pocketbase/tools/types"

	"ticketing/internal/schema"
	"ticketing/models"
)

type OutboxStore struct {
	app core.App
}

func NewOutboxStore(app core.App) *OutboxStore {
	return &OutboxStore{app: app}
}

type outboxRow struct {
	ID        string         `db:"id"`
	Aggregate string         `db:"aggregate"`
	EntityID  string         `db:"entity_id"`
	Topic     string         `db:"topic"`
	Version   int64          `db:"version"`
	Payload   string         `db:"payload"`
	Published bool           `db:"published"`
	Created   types.DateTime `db:"created"`
}

func (r outboxRow) event() models.OutboxEvent {
	return models.OutboxEvent{
		ID:        r.ID,
		Aggregate: models.Aggregate(r.Aggregate),
		EntityID:  r.EntityID,
		Topic:     models.Topic(r.Topic),
		Version:   r.Version,
		Payload:   json.RawMessage(r.Payload),
		CreatedAt: r.Created.Time(),
		Published: r.Published,
	}
}

func (s *OutboxStore) selectEvents() *dbx.SelectQuery {
	return s.app.DB().
		Select("id", "aggregate", "entity_id", "topic", "version", "payload", "published", "created").
		From(schema.CollectionOutbox)
}

// Pending returns unpublished events in insertion order.
func (s *OutboxStore) Pending(ctx context.Context, limit int) ([]models.OutboxEvent, error) {
	var rows []outboxRow

	err := s.selectEvents().
		Where(dbx.HashExp{"published": false}).
		OrderBy("rowid ASC").
		Limit(int64(limit)).
		WithContext(ctx).
		All(&rows)
	if err != nil {
		return nil, err
	}

	events := make([]models.OutboxEvent, 0, len(rows))
	for _, r := range rows {
		events = append(events, r.event())
	}
	return events, nil
}

func (s *OutboxStore) MarkPublished(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}

	values := make([]any, 0, len(ids))
	for _, id := range ids {
		values = append(values, id)
	}

	_, err := s.app.DB().Update(
		schema.CollectionOutbox,
		dbx.Params{"published": true, "updated": types.NowDateTime().String()},
		dbx.In("id", values...),
	).WithContext(ctx).Execute()
	return err
}

func (s *OutboxStore) CountPending(ctx context.Context) (int, error) {
	var row struct {
		Count int `db:"count"`
	}

	err := s.app.DB().
		Select("COUNT(*) AS count").
		From(schema.CollectionOutbox).
		Where(dbx.HashExp{"published": false}).
		WithContext(ctx).
		One(&row)
	return row.Count, err
}

// Recent returns the latest events, newest first.
func (s *OutboxStore) Recent(ctx context.Context, limit int) ([]models.OutboxEvent, error) {
	var rows []outboxRow

	err := s.selectEvents().
		OrderBy("rowid DESC").
		Limit(int64(limit)).
		WithContext(ctx).
		All(&rows)
	if err != nil {
		return nil, err
	}

	events := make([]models.OutboxEvent, 0, len(rows))
	for _, r := range rows {
		events = append(events, r.event())
	}
	return events, nil
}
