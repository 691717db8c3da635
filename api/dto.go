/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the ledger model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

MONEY:
  Amounts go out as fixed two-decimal strings ("20000.00") with the currency
  alongside. Amounts come in as JSON numbers or strings; both decode into
  decimal.Decimal without float rounding.

DATES:
  Calendar dates are "2006-01-02". Timestamps are RFC3339.

VALIDATION:
  Validation is done in handlers and the ledger, not in DTOs. DTOs are pure
  data carriers.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/rent-ledger/latefee"
	"github.com/warp/rent-ledger/ledger"
	"github.com/warp/rent-ledger/rent"
	"github.com/warp/rent-ledger/statement"
)

const dateLayout = "2006-01-02"

// =============================================================================
// UNITS AND TENANCIES
// =============================================================================

// UnitDTO represents a rentable unit.
type UnitDTO struct {
	ID           string `json:"id"`
	BuildingName string `json:"building_name"`
	UnitNumber   string `json:"unit_number"`
	Label        string `json:"label"`
	MonthlyRent  string `json:"monthly_rent"`
	Currency     string `json:"currency"`
	Status       string `json:"status"`
}

// CreateUnitRequest is the request to create a unit.
type CreateUnitRequest struct {
	ID           string          `json:"id"`
	BuildingName string          `json:"building_name"`
	UnitNumber   string          `json:"unit_number"`
	MonthlyRent  decimal.Decimal `json:"monthly_rent"`
	Status       string          `json:"status"`
}

// TenancyDTO represents a tenancy with its current balance.
type TenancyDTO struct {
	ID          string  `json:"id"`
	UnitID      string  `json:"unit_id"`
	Unit        string  `json:"unit"`
	TenantName  string  `json:"tenant_name"`
	Email       string  `json:"email,omitempty"`
	Phone       string  `json:"phone,omitempty"`
	MonthlyRent string  `json:"monthly_rent"`
	Deposit     string  `json:"deposit"`
	Currency    string  `json:"currency"`
	MoveInDate  string  `json:"move_in_date"`
	MoveOutDate *string `json:"move_out_date"`
	IsActive    bool    `json:"is_active"`
	Balance     string  `json:"balance"`
	CreatedAt   string  `json:"created_at,omitempty"`
}

// CreateTenancyRequest is the request to move a tenant into a unit.
// MonthlyRent defaults to the unit's rent.
type CreateTenancyRequest struct {
	ID          string           `json:"id"`
	UnitID      string           `json:"unit_id"`
	TenantName  string           `json:"tenant_name"`
	Email       string           `json:"email"`
	Phone       string           `json:"phone"`
	MonthlyRent *decimal.Decimal `json:"monthly_rent"`
	Deposit     decimal.Decimal  `json:"deposit"`
	MoveInDate  string           `json:"move_in_date"`
}

// MoveOutRequest ends a tenancy. MoveOutDate defaults to today.
type MoveOutRequest struct {
	MoveOutDate string `json:"move_out_date"`
}

// =============================================================================
// LEDGER
// =============================================================================

// EntryDTO represents a ledger entry and the balance after it.
type EntryDTO struct {
	ID              string `json:"id"`
	TenancyID       string `json:"tenancy_id"`
	Type            string `json:"type"`
	Amount          string `json:"amount"`
	Currency        string `json:"currency"`
	TransactionDate string `json:"transaction_date"`
	Description     string `json:"description"`
	PaymentMethod   string `json:"payment_method,omitempty"`
	ReferenceNumber string `json:"reference_number,omitempty"`
	Notes           string `json:"notes,omitempty"`
	PeriodKey       string `json:"period_key,omitempty"`
	CreatedBy       string `json:"created_by"`
	CreatedAt       string `json:"created_at"`
	Balance         string `json:"balance,omitempty"`
}

// CreateEntryRequest records a payment or an ad hoc charge.
type CreateEntryRequest struct {
	TenancyID        string          `json:"tenancy_id"`
	Type             string          `json:"type"`
	Amount           decimal.Decimal `json:"amount"`
	TransactionDate  string          `json:"transaction_date"`
	Description      string          `json:"description"`
	PaymentMethod    string          `json:"payment_method"`
	ReferenceNumber  string          `json:"reference_number"`
	Notes            string          `json:"notes"`
	IdempotencyKey   string          `json:"idempotency_key"`
	SendNotification bool            `json:"send_notification"`
}

// BalanceDTO is a tenancy's balance broken into its components.
type BalanceDTO struct {
	TenancyID     string  `json:"tenancy_id"`
	TotalCharges  string  `json:"total_charges"`
	TotalPayments string  `json:"total_payments"`
	Balance       string  `json:"balance"`
	Currency      string  `json:"currency"`
	EntryCount    int     `json:"entry_count"`
	OldestCharge  *string `json:"oldest_charge"`
	InArrears     bool    `json:"in_arrears"`
}

// StatementDTO is the JSON form of a tenant statement.
type StatementDTO struct {
	Tenancy        TenancyDTO `json:"tenancy"`
	Entries        []EntryDTO `json:"entries"`
	TotalCharges   string     `json:"total_charges"`
	TotalPayments  string     `json:"total_payments"`
	CurrentBalance string     `json:"current_balance"`
	GeneratedAt    string     `json:"generated_at"`
}

// =============================================================================
// RENT RUNS
// =============================================================================

// ChargeAllRentRequest charges every active tenancy for a month. A missing
// month means the current one. SendNotifications defaults to true.
type ChargeAllRentRequest struct {
	Month             *string `json:"month"`
	SendNotifications *bool   `json:"send_notifications"`
	DryRun            bool    `json:"dry_run"`
}

// ChargeAllRentResponse is the ChargingResult on the wire.
type ChargeAllRentResponse struct {
	Success           bool               `json:"success"`
	Month             string             `json:"month"`
	PeriodKey         string             `json:"period_key"`
	Charged           int                `json:"charged"`
	Skipped           int                `json:"skipped"`
	TotalAmount       string             `json:"total_amount"`
	Currency          string             `json:"currency"`
	NotificationsSent bool               `json:"notifications_sent"`
	DryRun            bool               `json:"dry_run"`
	Errors            []string           `json:"errors"`
	Outcomes          []ChargeOutcomeDTO `json:"outcomes"`
}

// ChargeOutcomeDTO is one tenancy's line of a rent run.
type ChargeOutcomeDTO struct {
	TenancyID  string `json:"tenancy_id"`
	TenantName string `json:"tenant_name"`
	Unit       string `json:"unit,omitempty"`
	Outcome    string `json:"outcome"`
	Amount     string `json:"amount"`
	EntryID    string `json:"entry_id,omitempty"`
	Error      string `json:"error,omitempty"`
}

// ChargeTenancyRequest charges one tenancy. Month defaults to the current
// month and Amount to the tenancy's rent.
type ChargeTenancyRequest struct {
	Month            string           `json:"month"`
	Amount           *decimal.Decimal `json:"amount"`
	SendNotification bool             `json:"send_notification"`
}

// ApplyLateFeesRequest runs late fee assessment. Unset policy fields fall
// back to the configured policy.
type ApplyLateFeesRequest struct {
	AsOf              string           `json:"as_of"`
	GraceDays         *int             `json:"grace_days"`
	Percent           *decimal.Decimal `json:"late_fee_percent"`
	Minimum           *decimal.Decimal `json:"min_late_fee"`
	DryRun            bool             `json:"dry_run"`
	SendNotifications bool             `json:"send_notifications"`
}

// ApplyLateFeesResponse is the latefee.Result on the wire.
type ApplyLateFeesResponse struct {
	Success bool         `json:"success"`
	Month   string       `json:"month"`
	Applied int          `json:"applied"`
	Skipped int          `json:"skipped"`
	Total   string       `json:"total"`
	DryRun  bool         `json:"dry_run"`
	Errors  []string     `json:"errors"`
	Items   []LateFeeDTO `json:"items"`
}

// SendRemindersRequest sends late payment reminders. Days defaults to the
// configured reminder threshold.
type SendRemindersRequest struct {
	AsOf   string `json:"as_of"`
	Days   *int   `json:"days"`
	DryRun bool   `json:"dry_run"`
}

// SendRemindersResponse is the latefee.ReminderResult on the wire.
type SendRemindersResponse struct {
	Success bool        `json:"success"`
	AsOf    string      `json:"as_of"`
	Checked int         `json:"checked"`
	Sent    int         `json:"sent"`
	DryRun  bool        `json:"dry_run"`
	Errors  []string    `json:"errors"`
	Notices []NoticeDTO `json:"notices"`
}

type NoticeDTO struct {
	TenancyID  string `json:"tenancy_id"`
	TenantName string `json:"tenant_name"`
	DaysLate   int    `json:"days_late"`
	AmountDue  string `json:"amount_due"`
	Outcome    string `json:"outcome"`
	Error      string `json:"error,omitempty"`
}

// LateFeeDTO is one tenancy's line of a late fee run.
type LateFeeDTO struct {
	TenancyID   string `json:"tenancy_id"`
	TenantName  string `json:"tenant_name"`
	DaysOverdue int    `json:"days_overdue"`
	Balance     string `json:"balance"`
	Fee         string `json:"fee"`
	Outcome     string `json:"outcome"`
	Error       string `json:"error,omitempty"`
}

// =============================================================================
// DASHBOARD, PERIODS, SCENARIOS
// =============================================================================

// PeriodDTO is a selectable billing month.
type PeriodDTO struct {
	Key     string `json:"key"`
	Label   string `json:"label"`
	Current bool   `json:"current"`
}

// DashboardDTO is the portfolio roll-up.
type DashboardDTO struct {
	Tenancies       int          `json:"tenancies"`
	ActiveTenancies int          `json:"active_tenancies"`
	InArrears       int          `json:"in_arrears"`
	TotalCharged    string       `json:"total_charged"`
	TotalCollected  string       `json:"total_collected"`
	Outstanding     string       `json:"outstanding"`
	Currency        string       `json:"currency"`
	Arrears         []ArrearsDTO `json:"arrears"`
	AsOf            string       `json:"as_of"`
}

// ArrearsDTO is a tenancy that owes money.
type ArrearsDTO struct {
	TenancyID    string  `json:"tenancy_id"`
	TenantName   string  `json:"tenant_name"`
	Balance      string  `json:"balance"`
	OldestCharge *string `json:"oldest_charge"`
}

// LoadScenarioRequest loads a demo scenario.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

// LoadScenarioResponse reports what a scenario created.
type LoadScenarioResponse struct {
	Scenario  string `json:"scenario"`
	Units     int    `json:"units"`
	Tenancies int    `json:"tenancies"`
	Entries   int    `json:"entries"`
}

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func amount(m ledger.Money) string { return m.Value.StringFixed(2) }

func datePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.Format(dateLayout)
	return &s
}

func toUnitDTO(u ledger.Unit) UnitDTO {
	return UnitDTO{
		ID:           string(u.ID),
		BuildingName: u.BuildingName,
		UnitNumber:   u.UnitNumber,
		Label:        u.Label(),
		MonthlyRent:  amount(u.MonthlyRent),
		Currency:     string(u.MonthlyRent.Currency),
		Status:       string(u.Status),
	}
}

func toTenancyDTO(t ledger.Tenancy, balance ledger.Money, asOf time.Time) TenancyDTO {
	dto := TenancyDTO{
		ID:          string(t.ID),
		UnitID:      string(t.UnitID),
		Unit:        t.UnitLabel,
		TenantName:  t.TenantName,
		Email:       t.Email,
		Phone:       t.Phone,
		MonthlyRent: amount(t.MonthlyRent),
		Deposit:     amount(t.Deposit),
		Currency:    string(t.MonthlyRent.Currency),
		MoveInDate:  t.MoveInDate.Format(dateLayout),
		MoveOutDate: datePtr(t.MoveOutDate),
		IsActive:    t.IsActive(asOf),
		Balance:     amount(balance),
	}
	if !t.CreatedAt.IsZero() {
		dto.CreatedAt = t.CreatedAt.Format(time.RFC3339)
	}
	return dto
}

func toEntryDTO(e ledger.Entry) EntryDTO {
	return EntryDTO{
		ID:              string(e.ID),
		TenancyID:       string(e.TenancyID),
		Type:            string(e.Kind),
		Amount:          amount(e.Amount),
		Currency:        string(e.Amount.Currency),
		TransactionDate: e.TransactionDate.Format(dateLayout),
		Description:     e.Description,
		PaymentMethod:   string(e.PaymentMethod),
		ReferenceNumber: e.ReferenceNumber,
		Notes:           e.Notes,
		PeriodKey:       e.PeriodKey,
		CreatedBy:       e.CreatedBy,
		CreatedAt:       e.CreatedAt.Format(time.RFC3339),
	}
}

func toEntryDTOs(lines []ledger.BalanceLine) []EntryDTO {
	dtos := make([]EntryDTO, len(lines))
	for i, l := range lines {
		dtos[i] = toEntryDTO(l.Entry)
		dtos[i].Balance = amount(l.Balance)
	}
	return dtos
}

func toBalanceDTO(s ledger.BalanceSummary) BalanceDTO {
	return BalanceDTO{
		TenancyID:     string(s.TenancyID),
		TotalCharges:  amount(s.TotalCharges),
		TotalPayments: amount(s.TotalPayments),
		Balance:       amount(s.Balance),
		Currency:      string(s.Balance.Currency),
		EntryCount:    s.EntryCount,
		OldestCharge:  datePtr(s.OldestCharge),
		InArrears:     s.InArrears(),
	}
}

func toStatementDTO(s statement.Statement, asOf time.Time) StatementDTO {
	return StatementDTO{
		Tenancy:        toTenancyDTO(s.Tenancy, s.CurrentBalance, asOf),
		Entries:        toEntryDTOs(s.Lines),
		TotalCharges:   amount(s.TotalCharges),
		TotalPayments:  amount(s.TotalPayments),
		CurrentBalance: amount(s.CurrentBalance),
		GeneratedAt:    s.GeneratedAt.Format(time.RFC3339),
	}
}

func toChargeOutcomeDTO(o rent.TenancyOutcome) ChargeOutcomeDTO {
	return ChargeOutcomeDTO{
		TenancyID:  string(o.TenancyID),
		TenantName: o.TenantName,
		Unit:       o.UnitLabel,
		Outcome:    string(o.Outcome),
		Amount:     amount(o.Amount),
		EntryID:    string(o.EntryID),
		Error:      o.Error,
	}
}

func toChargeAllRentResponse(r *rent.ChargingResult) ChargeAllRentResponse {
	resp := ChargeAllRentResponse{
		Success:           r.Success(),
		Month:             r.Period.Label(),
		PeriodKey:         r.Period.Key(),
		Charged:           r.Charged,
		Skipped:           r.Skipped,
		TotalAmount:       amount(r.TotalAmount),
		Currency:          string(r.TotalAmount.Currency),
		NotificationsSent: r.NotificationsSent,
		DryRun:            r.DryRun,
		Errors:            r.Errors,
		Outcomes:          make([]ChargeOutcomeDTO, len(r.Outcomes)),
	}
	for i, o := range r.Outcomes {
		resp.Outcomes[i] = toChargeOutcomeDTO(o)
	}
	return resp
}

func toSendRemindersResponse(r *latefee.ReminderResult) SendRemindersResponse {
	resp := SendRemindersResponse{
		Success: len(r.Errors) == 0,
		AsOf:    r.AsOf.Format(dateLayout),
		Checked: r.Checked,
		Sent:    r.Sent,
		DryRun:  r.DryRun,
		Errors:  r.Errors,
		Notices: make([]NoticeDTO, len(r.Notices)),
	}
	for i, n := range r.Notices {
		resp.Notices[i] = NoticeDTO{
			TenancyID:  string(n.TenancyID),
			TenantName: n.TenantName,
			DaysLate:   n.DaysLate,
			AmountDue:  amount(n.AmountDue),
			Outcome:    string(n.Outcome),
			Error:      n.Error,
		}
	}
	return resp
}

func toApplyLateFeesResponse(r *latefee.Result) ApplyLateFeesResponse {
	resp := ApplyLateFeesResponse{
		Success: len(r.Errors) == 0,
		Month:   r.Period.Label(),
		Applied: r.Applied,
		Skipped: r.Skipped,
		Total:   amount(r.Total),
		DryRun:  r.DryRun,
		Errors:  r.Errors,
		Items:   make([]LateFeeDTO, len(r.Items)),
	}
	if resp.Errors == nil {
		resp.Errors = []string{}
	}
	for i, it := range r.Items {
		resp.Items[i] = LateFeeDTO{
			TenancyID:   string(it.TenancyID),
			TenantName:  it.TenantName,
			DaysOverdue: it.DaysOverdue,
			Balance:     amount(it.Balance),
			Fee:         amount(it.Fee),
			Outcome:     string(it.Outcome),
			Error:       it.Error,
		}
	}
	return resp
}

func toDashboardDTO(p statement.Portfolio, names map[ledger.TenancyID]string, asOf time.Time) DashboardDTO {
	dto := DashboardDTO{
		Tenancies:       p.Tenancies,
		ActiveTenancies: p.ActiveTenancies,
		InArrears:       p.InArrears,
		TotalCharged:    amount(p.TotalCharged),
		TotalCollected:  amount(p.TotalCollected),
		Outstanding:     amount(p.Outstanding),
		Currency:        string(p.Outstanding.Currency),
		Arrears:         make([]ArrearsDTO, len(p.Arrears)),
		AsOf:            asOf.Format(dateLayout),
	}
	for i, s := range p.Arrears {
		dto.Arrears[i] = ArrearsDTO{
			TenancyID:    string(s.TenancyID),
			TenantName:   names[s.TenancyID],
			Balance:      amount(s.Balance),
			OldestCharge: datePtr(s.OldestCharge),
		}
	}
	return dto
}
