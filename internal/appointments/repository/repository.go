package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Appointment represents the appointment database model
type Appointment struct {
	ID        uuid.UUID  `db:"id"`
	TenantID  uuid.UUID  `db:"tenant_id"`
	UserID    uuid.UUID  `db:"user_id"`
	LeadID    *uuid.UUID `db:"lead_id"`
	Title     string     `db:"title"`
	Notes     *string    `db:"notes"`
	StartTime time.Time  `db:"start_time"`
	EndTime   time.Time  `db:"end_time"`
	Status    string     `db:"status"`
	CreatedAt time.Time  `db:"created_at"`
	UpdatedAt time.Time  `db:"updated_at"`
}

// AvailabilityRule defines a recurring weekly availability window for a user.
// DayOfWeek follows time.Weekday (0 = Sunday).
type AvailabilityRule struct {
	ID        uuid.UUID `db:"id"`
	TenantID  uuid.UUID `db:"tenant_id"`
	UserID    uuid.UUID `db:"user_id"`
	DayOfWeek int       `db:"day_of_week"`
	StartMin  int       `db:"start_minute"`
	EndMin    int       `db:"end_minute"`
}

// Repository provides database operations for appointments and availability
type Repository struct {
	pool *pgxpool.Pool
}

// New creates a new appointments repository
func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Create inserts a new appointment
func (r *Repository) Create(ctx context.Context, appt *Appointment) error {
	query := `
		INSERT INTO appointments (
			id, tenant_id, user_id, lead_id, title, notes, start_time, end_time, status, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	_, err := r.pool.Exec(ctx, query,
		appt.ID, appt.TenantID, appt.UserID, appt.LeadID, appt.Title, appt.Notes,
		appt.StartTime, appt.EndTime, appt.Status, appt.CreatedAt, appt.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create appointment: %w", err)
	}
	return nil
}

// ListRules returns the availability rules for a tenant's users
func (r *Repository) ListRules(ctx context.Context, tenantID uuid.UUID) ([]AvailabilityRule, error) {
	query := `
		SELECT id, tenant_id, user_id, day_of_week, start_minute, end_minute
		FROM availability_rules
		WHERE tenant_id = $1
		ORDER BY day_of_week ASC, start_minute ASC`

	rows, err := r.pool.Query(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to query availability rules: %w", err)
	}
	defer rows.Close()

	var rules []AvailabilityRule
	for rows.Next() {
		var rule AvailabilityRule
		if err := rows.Scan(&rule.ID, &rule.TenantID, &rule.UserID, &rule.DayOfWeek, &rule.StartMin, &rule.EndMin); err != nil {
			return nil, fmt.Errorf("failed to scan availability rule: %w", err)
		}
		rules = append(rules, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read availability rules: %w", err)
	}
	return rules, nil
}

// ListBetween returns non-cancelled appointments for a user overlapping the window
func (r *Repository) ListBetween(ctx context.Context, userID uuid.UUID, from, to time.Time) ([]Appointment, error) {
	query := `
		SELECT id, tenant_id, user_id, lead_id, title, notes, start_time, end_time, status, created_at, updated_at
		FROM appointments
		WHERE user_id = $1 AND status != 'cancelled' AND start_time < $3 AND end_time > $2
		ORDER BY start_time ASC`

	rows, err := r.pool.Query(ctx, query, userID, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to query appointments: %w", err)
	}
	defer rows.Close()

	var appts []Appointment
	for rows.Next() {
		var appt Appointment
		if err := rows.Scan(
			&appt.ID, &appt.TenantID, &appt.UserID, &appt.LeadID, &appt.Title, &appt.Notes,
			&appt.StartTime, &appt.EndTime, &appt.Status, &appt.CreatedAt, &appt.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan appointment: %w", err)
		}
		appts = append(appts, appt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read appointments: %w", err)
	}
	return appts, nil
}
