package ledger

import (
	"strings"
	"time"
)

// =============================================================================
// UNIT - A rentable unit within a building
// =============================================================================

type UnitStatus string

const (
	UnitVacant      UnitStatus = "VACANT"
	UnitOccupied    UnitStatus = "OCCUPIED"
	UnitMaintenance UnitStatus = "MAINTENANCE"
)

type Unit struct {
	ID           UnitID
	BuildingName string
	UnitNumber   string
	MonthlyRent  Money
	Status       UnitStatus
	CreatedAt    time.Time
}

// Label is the display identifier used on statements and results.
func (u Unit) Label() string {
	if u.BuildingName == "" {
		return "Unit " + u.UnitNumber
	}
	return u.BuildingName + " - Unit " + u.UnitNumber
}

// =============================================================================
// TENANCY - One tenant occupying one unit
// =============================================================================

// Tenancy is never physically deleted; moving out only sets MoveOutDate so
// that the ledger keeps its history.
type Tenancy struct {
	ID          TenancyID
	UnitID      UnitID
	UnitLabel   string
	TenantName  string
	Email       string
	Phone       string
	MonthlyRent Money
	Deposit     Money
	MoveInDate  time.Time
	MoveOutDate *time.Time
	CreatedAt   time.Time
}

// IsActive is the one activity predicate for tenancies. A tenancy is active
// on asOf when it has no move-out date, or the move-out date is after asOf.
// Store queries for active tenancies must agree with this.
func (t Tenancy) IsActive(asOf time.Time) bool {
	if t.MoveOutDate == nil {
		return true
	}
	return Date(*t.MoveOutDate).After(Date(asOf))
}

// MoveOut records the move-out date. A tenancy moves out once.
func (t *Tenancy) MoveOut(date time.Time) error {
	if t.MoveOutDate != nil {
		return ErrAlreadyMovedOut
	}
	d := Date(date)
	if d.Before(Date(t.MoveInDate)) {
		return &ValidationError{Field: "move_out_date", Message: "move-out date is before move-in date"}
	}
	t.MoveOutDate = &d
	return nil
}

// Validate checks the fields required to create a tenancy.
func (t Tenancy) Validate() error {
	if strings.TrimSpace(string(t.ID)) == "" {
		return &ValidationError{Field: "id", Message: "is required"}
	}
	if strings.TrimSpace(t.TenantName) == "" {
		return &ValidationError{Field: "tenant_name", Message: "is required"}
	}
	if t.MonthlyRent.IsNegative() {
		return &ValidationError{Field: "monthly_rent", Message: "must not be negative"}
	}
	if t.Deposit.IsNegative() {
		return &ValidationError{Field: "deposit", Message: "must not be negative"}
	}
	if t.MoveInDate.IsZero() {
		return &ValidationError{Field: "move_in_date", Message: "is required"}
	}
	return nil
}

// FilterActive returns the tenancies active on asOf, preserving order.
func FilterActive(tenancies []Tenancy, asOf time.Time) []Tenancy {
	var out []Tenancy
	for _, t := range tenancies {
		if t.IsActive(asOf) {
			out = append(out, t)
		}
	}
	return out
}
