// Package catalog holds the treatments and branches a booking is made against.
package catalog

import (
	"errors"
	"strings"
	"time"
)

var (
	// ErrNotFound is returned when a treatment or branch is unknown.
	ErrNotFound = errors.New("catalog: not found")
	// ErrInvalid is returned when a catalog entry cannot be stored.
	ErrInvalid = errors.New("catalog: invalid entry")
)

// Treatment is immutable for the lifetime of a booking session.
type Treatment struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	DurationMinutes int    `json:"duration_minutes"`
	// PriceAmount is in minor currency units.
	PriceAmount     int64  `json:"price_amount"`
	Currency        string `json:"currency,omitempty"`
	PaymentRequired bool   `json:"payment_required"`
	// MinForcePaymentAmount forces a payment step once PriceAmount reaches it.
	MinForcePaymentAmount *int64 `json:"min_force_payment_amount,omitempty"`
	CancellationFee       int64  `json:"cancellation_fee"`
}

// RequiresPayment reports whether booking this treatment must collect payment details.
func (t Treatment) RequiresPayment() bool {
	if t.PaymentRequired {
		return true
	}
	return t.MinForcePaymentAmount != nil && t.PriceAmount >= *t.MinForcePaymentAmount
}

// DayHours is the opening window for one weekday in 24-hour "HH:MM".
type DayHours struct {
	Open  string `json:"open"`
	Close string `json:"close"`
}

// Branch is a clinic location.
type Branch struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Timezone string `json:"timezone,omitempty"`
	// Hours is keyed by lower-case weekday name. A missing day means closed.
	Hours map[string]DayHours `json:"hours,omitempty"`
}

// HoursOn returns the opening window for the weekday, if any.
func (b Branch) HoursOn(day time.Weekday) (DayHours, bool) {
	if b.Hours == nil {
		return DayHours{}, false
	}
	h, ok := b.Hours[strings.ToLower(day.String())]
	if !ok || h.Open == "" || h.Close == "" {
		return DayHours{}, false
	}
	return h, true
}

// Location resolves the branch timezone, defaulting to UTC.
func (b Branch) Location() *time.Location {
	if b.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(b.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// DefaultHours is Monday to Friday 09:00-18:00.
func DefaultHours() map[string]DayHours {
	weekday := DayHours{Open: "09:00", Close: "18:00"}
	return map[string]DayHours{
		"monday":    weekday,
		"tuesday":   weekday,
		"wednesday": weekday,
		"thursday":  weekday,
		"friday":    weekday,
	}
}
