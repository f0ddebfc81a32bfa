// Package store persists tickets, orders, their cross-service copies and the
// outbox on top of the pocketbase database.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/pocketbase/dbx"
	"github.com/pocketbase/pocketbase/core"
	"github.com/pocketbase/pocketbase/tools/types"
	"github.com/shopspring/decimal"

	"ticketing/internal/schema"
	"ticketing/internal/status"
	"ticketing/models"
)

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func isNotFound(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

// updateIfVersion sets cols on the row only while it still carries the expected version.
// It reports whether a row was written.
func updateIfVersion(ctx context.Context, db dbx.Builder, table, id string, version int64, cols dbx.Params, extra ...dbx.Expression) (bool, error) {
	cols["updated"] = types.NowDateTime().String()

	where := []dbx.Expression{dbx.HashExp{"id": id, "version": version}}
	where = append(where, extra...)

	res, err := db.Update(table, cols, dbx.And(where...)).WithContext(ctx).Execute()
	if err != nil {
		return false, err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// appendEvent writes evt to the outbox. Must run inside the transaction that produced the state change.
func appendEvent(ctx context.Context, txApp core.App, evt models.OutboxEvent) error {
	collection, err := txApp.FindCachedCollectionByNameOrId(schema.CollectionOutbox)
	if err != nil {
		return err
	}

	record := core.NewRecord(collection)
	record.Set("id", evt.ID)
	record.Set("aggregate", string(evt.Aggregate))
	record.Set("entity_id", evt.EntityID)
	record.Set("topic", evt.Topic.String())
	record.Set("version", evt.Version)
	record.Set("payload", string(evt.Payload))
	record.Set("published", false)

	if err := txApp.SaveNoValidateWithContext(ctx, record); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%s %s v%d already recorded: %w", evt.Aggregate, evt.EntityID, evt.Version, status.ErrVersionConflict)
		}
		return fmt.Errorf("append %s event: %w", evt.Topic, err)
	}
	return nil
}

func priceOf(record *core.Record) decimal.Decimal {
	return decimal.NewFromFloat(record.GetFloat("price"))
}

func versionOf(record *core.Record) int64 {
	return int64(record.GetInt("version"))
}
