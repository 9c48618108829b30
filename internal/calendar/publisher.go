package calendar

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/clusterpj/cluster-estate-sub001/internal/availability"
	"github.com/clusterpj/cluster-estate-sub001/internal/cache"
	"github.com/clusterpj/cluster-estate-sub001/internal/ics"
	"github.com/clusterpj/cluster-estate-sub001/internal/metrics"
	"github.com/clusterpj/cluster-estate-sub001/internal/storage/models"
)

// Generic summaries of published events. Guest data never appears in a feed.
const (
	SummaryBooked       = "Booked"
	SummaryPending      = "Pending"
	SummaryNotAvailable = "Not Available"
)

// DefaultUIDDomain is appended to published event UIDs.
const DefaultUIDDomain = "cluster-estate.local"

// Publisher renders a property's busy/free feed.
type Publisher struct {
	properties PropertyStore
	bookings   BookingStore
	blocks     BlockStore
	cache      cache.FeedCache
	domain     string
	productID  string
	now        func() time.Time
}

// NewPublisher creates a publisher. feedCache may be nil.
func NewPublisher(properties PropertyStore, bookings BookingStore, blocks BlockStore, feedCache cache.FeedCache, domain, productID string) *Publisher {
	if domain == "" {
		domain = DefaultUIDDomain
	}
	return &Publisher{
		properties: properties,
		bookings:   bookings,
		blocks:     blocks,
		cache:      feedCache,
		domain:     domain,
		productID:  productID,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Publish returns the property's feed, served from cache while fresh.
func (p *Publisher) Publish(ctx context.Context, propertyID string) ([]byte, error) {
	if p.cache != nil {
		if feed, ok := p.cache.Get(ctx, propertyID); ok {
			metrics.IncFeedRequest("hit")
			return feed, nil
		}
	}
	metrics.IncFeedRequest("miss")

	property, err := p.properties.GetProperty(ctx, propertyID)
	if err != nil {
		return nil, fmt.Errorf("loading property: %w", err)
	}
	if property == nil {
		return nil, ErrPropertyNotFound
	}

	now := p.now()
	today := availability.Day(now)

	// Stays that ended before today are of no use to a consumer.
	bookings, err := p.bookings.ListBookings(ctx, propertyID, today, time.Time{})
	if err != nil {
		return nil, fmt.Errorf("loading bookings: %w", err)
	}
	blocks, err := p.blocks.ListByProperty(ctx, propertyID, today, time.Time{})
	if err != nil {
		return nil, fmt.Errorf("loading blocks: %w", err)
	}

	events := make([]models.CalendarEvent, 0, len(bookings)+len(blocks))
	for _, b := range bookings {
		if !b.Status.Occupies() {
			continue
		}
		ev, ok := busyEvent(ics.BookingUID(b.ID, p.domain), b.CheckIn, b.CheckOut)
		if !ok {
			log.Printf("Skipping booking %s in feed: check-out not after check-in", b.ID)
			continue
		}
		if b.Status == models.BookingConfirmed {
			ev.Summary = SummaryBooked
		} else {
			ev.Status = models.EventTentative
			ev.Summary = SummaryPending
		}
		events = append(events, ev)
	}
	for _, blk := range blocks {
		ev, ok := busyEvent(ics.BlockUID(blk.ID, p.domain), blk.Start, blk.End)
		if !ok {
			log.Printf("Skipping block %s in feed: end not after start", blk.ID)
			continue
		}
		ev.Summary = SummaryNotAvailable
		events = append(events, ev)
	}

	feed, err := ics.Serialize(events, ics.PropertyMeta{
		ID:        property.ID,
		Title:     property.Title,
		Location:  property.Location,
		ProductID: p.productID,
	}, now)
	if err != nil {
		return nil, fmt.Errorf("rendering feed: %w", err)
	}

	if p.cache != nil {
		p.cache.Set(ctx, propertyID, feed)
	}
	return feed, nil
}

// Invalidate drops the cached feed so the next request re-renders it.
func (p *Publisher) Invalidate(ctx context.Context, propertyID string) {
	if p.cache != nil {
		p.cache.Invalidate(ctx, propertyID)
	}
}

// busyEvent builds an all-day confirmed event covering the days of [start, end).
// A same-day range covers its start day.
func busyEvent(uid string, start, end time.Time) (models.CalendarEvent, bool) {
	if !end.After(start) {
		return models.CalendarEvent{}, false
	}
	from := availability.Day(start)
	to := availability.Day(end)
	if !to.After(from) {
		to = from.AddDate(0, 0, 1)
	}
	return models.CalendarEvent{
		ExternalUID: uid,
		Start:       from,
		End:         to,
		AllDay:      true,
		Status:      models.EventConfirmed,
	}, true
}
