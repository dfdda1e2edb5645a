package service

import (
	"context"
	"fmt"
	"time"

	"github.com/stayawake/stayawake/internal/model"
	"github.com/stayawake/stayawake/internal/repository"
)

const (
	// DefaultResponseTimeLimit is the number of points returned per link when unspecified.
	DefaultResponseTimeLimit = 5
	// MaxResponseTimeLimit caps the points returned per link.
	MaxResponseTimeLimit = 100
)

// ResponseTimeStore is the storage needed by ResponseTimeService.
type ResponseTimeStore interface {
	repository.AccountStore
	repository.LinkStore
	repository.PingStore
}

// ResponseTimePoint is one charted probe.
type ResponseTimePoint struct {
	ResponseTime time.Duration
	StatusCode   int
	Outcome      model.PingOutcome
	Timestamp    time.Time
}

// ResponseTimeService reads probe history for charting.
type ResponseTimeService struct {
	store ResponseTimeStore
}

// NewResponseTimeService creates a new ResponseTimeService.
func NewResponseTimeService(store ResponseTimeStore) *ResponseTimeService {
	return &ResponseTimeService{store: store}
}

// RecentPings returns up to limit records of a link owned by the account,
// newest first.
func (s *ResponseTimeService) RecentPings(ctx context.Context, rawEmail, linkID string, limit int) ([]*model.PingRecord, error) {
	email, err := NormalizeEmail(rawEmail)
	if err != nil {
		return nil, ErrLinkNotFound
	}
	limit, err = clampLimit(limit)
	if err != nil {
		return nil, err
	}

	link, err := s.store.GetLink(ctx, linkID)
	if err != nil || link.OwnerEmail != email {
		return nil, ErrLinkNotFound
	}

	records, err := s.store.RecentPings(ctx, linkID, limit)
	if err != nil {
		return nil, fmt.Errorf("recent pings: %w", err)
	}
	return records, nil
}

// ByURL returns, for every link of the account, its most recent points in
// chronological order keyed by URL.
func (s *ResponseTimeService) ByURL(ctx context.Context, rawEmail string, limit int) (map[string][]ResponseTimePoint, error) {
	email, err := NormalizeEmail(rawEmail)
	if err != nil {
		return nil, err
	}
	limit, err = clampLimit(limit)
	if err != nil {
		return nil, err
	}

	if _, err := s.store.GetAccount(ctx, email); err != nil {
		return nil, translate(err)
	}

	links, err := s.store.ListLinksByOwner(ctx, email)
	if err != nil {
		return nil, translate(err)
	}

	out := make(map[string][]ResponseTimePoint, len(links))
	for _, link := range links {
		records, err := s.store.RecentPings(ctx, link.ID, limit)
		if err != nil {
			return nil, fmt.Errorf("recent pings for %s: %w", link.ID, err)
		}

		points := make([]ResponseTimePoint, 0, len(records))
		for i := len(records) - 1; i >= 0; i-- {
			r := records[i]
			points = append(points, ResponseTimePoint{
				ResponseTime: r.ResponseTime,
				StatusCode:   r.StatusCode,
				Outcome:      r.Outcome,
				Timestamp:    r.PingedAt,
			})
		}
		out[link.URL] = points
	}

	return out, nil
}

func clampLimit(limit int) (int, error) {
	switch {
	case limit == 0:
		return DefaultResponseTimeLimit, nil
	case limit < 0:
		return 0, ErrInvalidLimit
	case limit > MaxResponseTimeLimit:
		return MaxResponseTimeLimit, nil
	default:
		return limit, nil
	}
}
