// Package service implements calendar availability and meeting scheduling for
// the conversation automation.
package service

import (
	"context"
	"time"

	"sdrdesk_backend/internal/appointments/repository"
	"sdrdesk_backend/internal/events"
	"sdrdesk_backend/platform/apperr"
	"sdrdesk_backend/platform/logger"

	"github.com/google/uuid"
)

const (
	defaultSlotMinutes = 60
	lookAheadDays      = 7
)

// Slot is a bookable window on a user's calendar
type Slot struct {
	UserID uuid.UUID `json:"userId"`
	Start  time.Time `json:"start"`
	End    time.Time `json:"end"`
}

// Service computes availability and books meetings
type Service struct {
	repo *repository.Repository
	bus  events.Bus
	log  *logger.Logger
	now  func() time.Time
}

// New creates a new appointments service
func New(repo *repository.Repository, bus events.Bus, log *logger.Logger) *Service {
	return &Service{repo: repo, bus: bus, log: log, now: time.Now}
}

// AvailableSlots returns open hour-long slots across the tenant's users for
// the next seven days, earliest first.
func (s *Service) AvailableSlots(ctx context.Context, tenantID uuid.UUID) ([]Slot, error) {
	rules, err := s.repo.ListRules(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if len(rules) == 0 {
		return nil, nil
	}

	now := s.now().UTC()
	horizon := now.AddDate(0, 0, lookAheadDays)

	booked := make(map[uuid.UUID][]repository.Appointment)
	for _, rule := range rules {
		if _, ok := booked[rule.UserID]; ok {
			continue
		}
		appts, err := s.repo.ListBetween(ctx, rule.UserID, now, horizon)
		if err != nil {
			return nil, err
		}
		booked[rule.UserID] = appts
	}

	var slots []Slot
	for day := 0; day < lookAheadDays; day++ {
		date := now.AddDate(0, 0, day)
		midnight := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, time.UTC)
		for _, rule := range rules {
			if int(midnight.Weekday()) != rule.DayOfWeek {
				continue
			}
			for minute := rule.StartMin; minute+defaultSlotMinutes <= rule.EndMin; minute += defaultSlotMinutes {
				start := midnight.Add(time.Duration(minute) * time.Minute)
				end := start.Add(defaultSlotMinutes * time.Minute)
				if start.Before(now) {
					continue
				}
				if overlapsAny(booked[rule.UserID], start, end) {
					continue
				}
				slots = append(slots, Slot{UserID: rule.UserID, Start: start, End: end})
			}
		}
	}

	sortSlots(slots)
	return slots, nil
}

func overlapsAny(appts []repository.Appointment, start, end time.Time) bool {
	for _, appt := range appts {
		if appt.StartTime.Before(end) && appt.EndTime.After(start) {
			return true
		}
	}
	return false
}

func sortSlots(slots []Slot) {
	// Insertion sort; the slot list is small and mostly ordered already.
	for i := 1; i < len(slots); i++ {
		for j := i; j > 0 && slots[j].Start.Before(slots[j-1].Start); j-- {
			slots[j], slots[j-1] = slots[j-1], slots[j]
		}
	}
}

// Schedule books a meeting for a lead. When userID is nil the earliest
// available slot owner at the requested time is used.
func (s *Service) Schedule(ctx context.Context, tenantID, leadID uuid.UUID, userID *uuid.UUID, startTime time.Time, title, notes string) (*repository.Appointment, error) {
	endTime := startTime.Add(defaultSlotMinutes * time.Minute)

	assignee := userID
	if assignee == nil {
		slots, err := s.AvailableSlots(ctx, tenantID)
		if err != nil {
			return nil, err
		}
		for _, slot := range slots {
			if slot.Start.Equal(startTime) {
				assignee = &slot.UserID
				break
			}
		}
		if assignee == nil {
			return nil, apperr.Conflict("requested time is not available")
		}
	} else {
		existing, err := s.repo.ListBetween(ctx, *assignee, startTime, endTime)
		if err != nil {
			return nil, err
		}
		if len(existing) > 0 {
			return nil, apperr.Conflict("requested time is not available")
		}
	}

	now := s.now().UTC()
	appt := &repository.Appointment{
		ID:        uuid.New(),
		TenantID:  tenantID,
		UserID:    *assignee,
		LeadID:    &leadID,
		Title:     title,
		StartTime: startTime,
		EndTime:   endTime,
		Status:    "scheduled",
		CreatedAt: now,
		UpdatedAt: now,
	}
	if notes != "" {
		appt.Notes = &notes
	}
	if err := s.repo.Create(ctx, appt); err != nil {
		return nil, err
	}

	s.bus.Publish(ctx, events.MeetingScheduled{
		BaseEvent:     events.NewBaseEvent(),
		AppointmentID: appt.ID,
		TenantID:      tenantID,
		LeadID:        leadID,
		UserID:        *assignee,
		StartTime:     appt.StartTime,
		EndTime:       appt.EndTime,
	})
	return appt, nil
}
