package postgres

import (
	"context"
	"fmt"

	"github.com/ariefcatur/garments-tracker/internal/tracking"
)

// LedgerRepo only inserts and selects; tracking_events rows are never updated.
type LedgerRepo struct{ q querier }

func (r *LedgerRepo) Append(ctx context.Context, ev tracking.Event) error {
	_, err := r.q.Exec(ctx, `
		INSERT INTO tracking_events(id, order_id, tracking_id, status, location, note, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		ev.ID, ev.OrderID, ev.TrackingID, ev.Status, ev.Location, ev.Note, ev.CreatedAt)
	if err != nil {
		return fmt.Errorf("append tracking event for %s: %w", ev.OrderID, err)
	}
	return nil
}

func (r *LedgerRepo) ByOrderID(ctx context.Context, orderID string) ([]tracking.Event, error) {
	return r.list(ctx, `order_id=$1`, orderID)
}

func (r *LedgerRepo) ByTrackingID(ctx context.Context, trackingID string) ([]tracking.Event, error) {
	return r.list(ctx, `tracking_id=$1`, trackingID)
}

func (r *LedgerRepo) list(ctx context.Context, where string, arg string) ([]tracking.Event, error) {
	rows, err := r.q.Query(ctx, `
		SELECT id, order_id, tracking_id, status, location, note, created_at
		FROM tracking_events WHERE `+where+` ORDER BY created_at, id`, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []tracking.Event
	for rows.Next() {
		var ev tracking.Event
		if err := rows.Scan(&ev.ID, &ev.OrderID, &ev.TrackingID, &ev.Status, &ev.Location, &ev.Note, &ev.CreatedAt); err != nil {
			return nil, err
		}
		ev.CreatedAt = ev.CreatedAt.UTC()
		out = append(out, ev)
	}
	return out, rows.Err()
}
