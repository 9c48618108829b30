package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/clusterpj/cluster-estate-sub001/internal/storage/models"
)

// BookingRepository reads reservations written by the booking flow.
type BookingRepository struct {
	BaseRepository
}

// NewBookingRepository creates a new booking repository.
func NewBookingRepository(db *DB) *BookingRepository {
	return &BookingRepository{
		BaseRepository: NewBaseRepository(db),
	}
}

// ListBookings returns bookings of a property that overlap [from, to).
// Zero bounds are open.
func (r *BookingRepository) ListBookings(ctx context.Context, propertyID string, from, to time.Time) ([]models.Booking, error) {
	query := `
		SELECT id, property_id, check_in, check_out, status, guest_name, guest_email
		FROM bookings
		WHERE property_id = ?`
	args := []any{propertyID}
	if !from.IsZero() {
		query += " AND check_out > ?"
		args = append(args, from.UTC())
	}
	if !to.IsZero() {
		query += " AND check_in < ?"
		args = append(args, to.UTC())
	}
	query += " ORDER BY check_in, id"

	rows, err := r.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying bookings: %w", err)
	}
	defer rows.Close()

	var bookings []models.Booking
	for rows.Next() {
		var b models.Booking
		if err := rows.Scan(&b.ID, &b.PropertyID, &b.CheckIn, &b.CheckOut, &b.Status, &b.GuestName, &b.GuestEmail); err != nil {
			return nil, fmt.Errorf("scanning booking: %w", err)
		}
		b.CheckIn = b.CheckIn.UTC()
		b.CheckOut = b.CheckOut.UTC()
		bookings = append(bookings, b)
	}

	return bookings, rows.Err()
}

// Create inserts a booking. The booking flow owns this table; the method
// exists for seeding and tests.
func (r *BookingRepository) Create(ctx context.Context, b *models.Booking) error {
	if b.ID == "" {
		b.ID = GenerateID()
	}

	_, err := r.DB().ExecContext(ctx, `
		INSERT INTO bookings (id, property_id, check_in, check_out, status, guest_name, guest_email)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, b.ID, b.PropertyID, b.CheckIn.UTC(), b.CheckOut.UTC(), b.Status, b.GuestName, b.GuestEmail)
	if err != nil {
		return fmt.Errorf("inserting booking: %w", err)
	}

	return nil
}

// PropertyRepository reads listings owned by the property module.
type PropertyRepository struct {
	BaseRepository
}

// NewPropertyRepository creates a new property repository.
func NewPropertyRepository(db *DB) *PropertyRepository {
	return &PropertyRepository{
		BaseRepository: NewBaseRepository(db),
	}
}

// GetProperty retrieves a property by its ID.
func (r *PropertyRepository) GetProperty(ctx context.Context, id string) (*models.Property, error) {
	var (
		p        models.Property
		from, to sql.NullTime
	)

	err := r.DB().QueryRowContext(ctx, `
		SELECT id, title, location, available_from, available_to
		FROM properties WHERE id = ?
	`, id).Scan(&p.ID, &p.Title, &p.Location, &from, &to)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying property: %w", err)
	}

	if from.Valid {
		p.AvailableFrom = from.Time.UTC()
	}
	if to.Valid {
		p.AvailableTo = to.Time.UTC()
	}

	return &p, nil
}

// Create inserts a property. Used for seeding and tests.
func (r *PropertyRepository) Create(ctx context.Context, p *models.Property) error {
	if p.ID == "" {
		p.ID = GenerateID()
	}

	var from, to any
	if !p.AvailableFrom.IsZero() {
		from = p.AvailableFrom.UTC()
	}
	if !p.AvailableTo.IsZero() {
		to = p.AvailableTo.UTC()
	}

	_, err := r.DB().ExecContext(ctx, `
		INSERT INTO properties (id, title, location, available_from, available_to)
		VALUES (?, ?, ?, ?, ?)
	`, p.ID, p.Title, p.Location, from, to)
	if err != nil {
		return fmt.Errorf("inserting property: %w", err)
	}

	return nil
}

// BlockRepository provides data access for owner-entered blocks.
type BlockRepository struct {
	BaseRepository
}

// NewBlockRepository creates a new manual block repository.
func NewBlockRepository(db *DB) *BlockRepository {
	return &BlockRepository{
		BaseRepository: NewBaseRepository(db),
	}
}

// ListByProperty returns blocks of a property that overlap [from, to).
// Zero bounds are open.
func (r *BlockRepository) ListByProperty(ctx context.Context, propertyID string, from, to time.Time) ([]models.ManualBlock, error) {
	query := `
		SELECT id, property_id, start_at, end_at, reason, created_at
		FROM manual_blocks
		WHERE property_id = ?`
	args := []any{propertyID}
	if !from.IsZero() {
		query += " AND end_at > ?"
		args = append(args, from.UTC())
	}
	if !to.IsZero() {
		query += " AND start_at < ?"
		args = append(args, to.UTC())
	}
	query += " ORDER BY start_at, id"

	rows, err := r.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying manual blocks: %w", err)
	}
	defer rows.Close()

	var blocks []models.ManualBlock
	for rows.Next() {
		var b models.ManualBlock
		if err := rows.Scan(&b.ID, &b.PropertyID, &b.Start, &b.End, &b.Reason, &b.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning manual block: %w", err)
		}
		b.Start = b.Start.UTC()
		b.End = b.End.UTC()
		blocks = append(blocks, b)
	}

	return blocks, rows.Err()
}

// Create inserts a manual block.
func (r *BlockRepository) Create(ctx context.Context, b *models.ManualBlock) error {
	b.ID = GenerateID()
	b.CreatedAt = r.Now()

	_, err := r.DB().ExecContext(ctx, `
		INSERT INTO manual_blocks (id, property_id, start_at, end_at, reason, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, b.ID, b.PropertyID, b.Start.UTC(), b.End.UTC(), b.Reason, b.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting manual block: %w", err)
	}

	return nil
}

// Delete removes a manual block.
func (r *BlockRepository) Delete(ctx context.Context, id string) error {
	result, err := r.DB().ExecContext(ctx, "DELETE FROM manual_blocks WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting manual block: %w", err)
	}

	return checkAffected(result, "manual block", id)
}
