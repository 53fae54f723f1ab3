package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/univ-scheduler-api/internal/models"
)

// CalendarRepository reads production calendar events.
type CalendarRepository struct {
	db *sqlx.DB
}

// NewCalendarRepository constructs the repository.
func NewCalendarRepository(db *sqlx.DB) *CalendarRepository {
	return &CalendarRepository{db: db}
}

// ListEvents returns events dated within [from, to].
func (r *CalendarRepository) ListEvents(ctx context.Context, from, to time.Time) ([]models.CalendarEvent, error) {
	const query = `SELECT id, event_date, event_type, title FROM calendar_events
WHERE event_date BETWEEN $1 AND $2 ORDER BY event_date ASC, event_type ASC`
	var events []models.CalendarEvent
	if err := r.db.SelectContext(ctx, &events, query, from, to); err != nil {
		return nil, fmt.Errorf("list calendar events: %w", err)
	}
	return events, nil
}
