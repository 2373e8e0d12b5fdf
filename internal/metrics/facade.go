// Package metrics exposes the KPI aggregates the assistant engine consumes.
// The engine depends only on the Provider interface; the SQLite-backed Store
// aggregates the channel_metrics table.
package metrics

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/D1992S/bieznia-sub002/internal/db"
)

const dateLayout = "2006-01-02"

type Kpis struct {
	Views            int64   `json:"views"`
	ViewsDelta       int64   `json:"views_delta"`
	Subscribers      int64   `json:"subscribers"`
	SubscribersDelta int64   `json:"subscribers_delta"`
	EngagementRate   float64 `json:"engagement_rate"`
}

type Provider interface {
	GetKpis(channelID, dateFrom, dateTo string) (*Kpis, error)
}

type Store struct {
	db *sql.DB
}

func New(database *db.Database) *Store {
	return &Store{db: database.DB()}
}

// GetKpis sums views and averages engagement over [dateFrom, dateTo], takes
// the latest subscriber count in the range, and computes deltas against the
// preceding window of the same length. An empty range yields zeros.
func (s *Store) GetKpis(channelID, dateFrom, dateTo string) (*Kpis, error) {
	from, err := time.Parse(dateLayout, dateFrom)
	if err != nil {
		return nil, fmt.Errorf("invalid dateFrom %q: %w", dateFrom, err)
	}
	to, err := time.Parse(dateLayout, dateTo)
	if err != nil {
		return nil, fmt.Errorf("invalid dateTo %q: %w", dateTo, err)
	}

	views, subscribers, engagement, err := s.window(channelID, dateFrom, dateTo)
	if err != nil {
		return nil, err
	}

	span := to.Sub(from)
	prevTo := from.AddDate(0, 0, -1)
	prevFrom := prevTo.Add(-span)
	prevViews, prevSubscribers, _, err := s.window(channelID, prevFrom.Format(dateLayout), prevTo.Format(dateLayout))
	if err != nil {
		return nil, err
	}

	return &Kpis{
		Views:            views,
		ViewsDelta:       views - prevViews,
		Subscribers:      subscribers,
		SubscribersDelta: subscribers - prevSubscribers,
		EngagementRate:   engagement,
	}, nil
}

func (s *Store) window(channelID, dateFrom, dateTo string) (views, subscribers int64, engagement float64, err error) {
	err = s.db.QueryRow(`
        SELECT COALESCE(SUM(views), 0), COALESCE(AVG(engagement_rate), 0)
        FROM channel_metrics
        WHERE channel_id = ? AND date BETWEEN ? AND ?`,
		channelID, dateFrom, dateTo).Scan(&views, &engagement)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("failed to aggregate metrics for channel %s: %w", channelID, err)
	}

	err = s.db.QueryRow(`
        SELECT subscribers
        FROM channel_metrics
        WHERE channel_id = ? AND date BETWEEN ? AND ?
        ORDER BY date DESC
        LIMIT 1`,
		channelID, dateFrom, dateTo).Scan(&subscribers)
	if errors.Is(err, sql.ErrNoRows) {
		return views, 0, engagement, nil
	}
	if err != nil {
		return 0, 0, 0, fmt.Errorf("failed to read subscribers for channel %s: %w", channelID, err)
	}
	return views, subscribers, engagement, nil
}
