/*
handlers.go - HTTP API handlers for the rent ledger

PURPOSE:
  Exposes the rent ledger via REST API. Handles HTTP request/response and
  JSON serialization, and delegates to the ledger, rent engine and late fee
  assessor.

ENDPOINTS:
  Units:
    GET    /api/units                        List units
    POST   /api/units                        Create unit

  Tenancies:
    GET    /api/tenancies                    List tenancies (?active=true)
    POST   /api/tenancies                    Move a tenant in
    GET    /api/tenancies/{id}               Tenancy with balance
    POST   /api/tenancies/{id}/move-out      Move a tenant out
    GET    /api/tenancies/{id}/entries       Entries with running balance
    GET    /api/tenancies/{id}/balance       Balance summary
    GET    /api/tenancies/{id}/statement     Statement (?format=json|pdf|xlsx)
    POST   /api/tenancies/{id}/charge-rent   Charge one tenancy

  Ledger:
    POST   /api/entries                      Record payment or ad hoc charge
    POST   /api/entries/charge-all-rent      Charge every active tenancy
    POST   /api/late-fees/apply              Assess late fees
    POST   /api/late-fees/reminders          Send late payment reminders

  Misc:
    GET    /api/periods                      Billing months to offer
    GET    /api/dashboard                    Portfolio roll-up
    GET    /api/scenarios                    List demo scenarios
    POST   /api/scenarios/load               Load a demo scenario

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 404: Tenancy or unit not found
  - 409: Duplicate entry, occupied unit, rent run already in progress
  - 503: Store unavailable
  - 500: Internal errors

  A rent run where some tenancies failed is still 200; the failures are in
  the body's errors list and success is false.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup
  - middleware.go: Session resolution
*/
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/warp/rent-ledger/latefee"
	"github.com/warp/rent-ledger/ledger"
	"github.com/warp/rent-ledger/notify"
	"github.com/warp/rent-ledger/rent"
	"github.com/warp/rent-ledger/seed"
	"github.com/warp/rent-ledger/session"
	"github.com/warp/rent-ledger/statement"
)

var errUnitOccupied = errors.New("unit is already occupied")

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds the API dependencies.
type Handler struct {
	Repo     ledger.Repository
	Ledger   ledger.Ledger
	Engine   *rent.Engine
	Assessor *latefee.Assessor
	Notifier notify.Notifier
	Now      func() time.Time

	// ReminderDays is the default reminder threshold.
	ReminderDays int
}

// NewHandler creates a handler. The engine and assessor must share repo.
func NewHandler(repo ledger.Repository, engine *rent.Engine, assessor *latefee.Assessor, notifier notify.Notifier) *Handler {
	return &Handler{
		Repo:     repo,
		Ledger:   ledger.NewLedger(repo),
		Engine:   engine,
		Assessor: assessor,
		Notifier: notifier,
		Now:      time.Now,

		ReminderDays: latefee.DefaultReminderDays,
	}
}

func (h *Handler) now() time.Time {
	if h.Now == nil {
		return time.Now().UTC()
	}
	return h.Now().UTC()
}

func currentSession(r *http.Request) session.Session {
	if s, ok := SessionFrom(r.Context()); ok {
		return s
	}
	return session.System()
}

// =============================================================================
// UNIT ENDPOINTS
// =============================================================================

// ListUnits returns all units.
func (h *Handler) ListUnits(w http.ResponseWriter, r *http.Request) {
	units, err := h.Repo.ListUnits(r.Context())
	if err != nil {
		writeDomainError(w, "failed to list units", err)
		return
	}
	dtos := make([]UnitDTO, len(units))
	for i, u := range units {
		dtos[i] = toUnitDTO(u)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateUnit creates a unit.
func (h *Handler) CreateUnit(w http.ResponseWriter, r *http.Request) {
	var req CreateUnitRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	unit := ledger.Unit{
		ID:           ledger.UnitID(req.ID),
		BuildingName: strings.TrimSpace(req.BuildingName),
		UnitNumber:   strings.TrimSpace(req.UnitNumber),
		MonthlyRent:  ledger.Money{Value: req.MonthlyRent, Currency: ledger.DefaultCurrency},
		Status:       ledger.UnitStatus(strings.ToUpper(req.Status)),
		CreatedAt:    h.now(),
	}
	if unit.ID == "" {
		unit.ID = ledger.UnitID(uuid.NewString())
	}
	if unit.Status == "" {
		unit.Status = ledger.UnitVacant
	}

	switch {
	case unit.UnitNumber == "":
		writeError(w, http.StatusBadRequest, "unit_number is required", nil)
		return
	case !unit.MonthlyRent.IsPositive():
		writeError(w, http.StatusBadRequest, "monthly_rent must be greater than zero", nil)
		return
	case unit.Status != ledger.UnitVacant && unit.Status != ledger.UnitOccupied && unit.Status != ledger.UnitMaintenance:
		writeError(w, http.StatusBadRequest, "status must be VACANT, OCCUPIED or MAINTENANCE", nil)
		return
	}

	if err := h.Repo.SaveUnit(r.Context(), unit); err != nil {
		writeDomainError(w, "failed to create unit", err)
		return
	}
	writeJSON(w, http.StatusCreated, toUnitDTO(unit))
}

// =============================================================================
// TENANCY ENDPOINTS
// =============================================================================

// ListTenancies returns tenancies with their balances. ?active=true limits
// the list to tenancies active today.
func (h *Handler) ListTenancies(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	now := h.now()

	var (
		tenancies []ledger.Tenancy
		err       error
	)
	if r.URL.Query().Get("active") == "true" {
		tenancies, err = h.Repo.ListActiveTenancies(ctx, now)
	} else {
		tenancies, err = h.Repo.ListTenancies(ctx)
	}
	if err != nil {
		writeDomainError(w, "failed to list tenancies", err)
		return
	}

	dtos := make([]TenancyDTO, len(tenancies))
	for i, t := range tenancies {
		summary, err := h.Ledger.Summary(ctx, t.ID)
		if err != nil {
			writeDomainError(w, "failed to load balance", err)
			return
		}
		dtos[i] = toTenancyDTO(t, summary.Balance, now)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetTenancy returns one tenancy with its balance.
func (h *Handler) GetTenancy(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	t, err := h.Repo.GetTenancy(ctx, tenancyID(r))
	if err != nil {
		writeDomainError(w, "tenancy not found", err)
		return
	}
	summary, err := h.Ledger.Summary(ctx, t.ID)
	if err != nil {
		writeDomainError(w, "failed to load balance", err)
		return
	}
	writeJSON(w, http.StatusOK, toTenancyDTO(*t, summary.Balance, h.now()))
}

// CreateTenancy moves a tenant into a unit.
func (h *Handler) CreateTenancy(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req CreateTenancyRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if req.UnitID == "" {
		writeError(w, http.StatusBadRequest, "unit_id is required", nil)
		return
	}

	unit, err := h.Repo.GetUnit(ctx, ledger.UnitID(req.UnitID))
	if err != nil {
		writeDomainError(w, "unit not found", err)
		return
	}
	if unit.Status == ledger.UnitOccupied {
		writeError(w, http.StatusConflict, "unit is already occupied", errUnitOccupied)
		return
	}

	moveIn, err := parseDate(req.MoveInDate, h.now())
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid move_in_date (use YYYY-MM-DD)", err)
		return
	}

	t := ledger.Tenancy{
		ID:          ledger.TenancyID(req.ID),
		UnitID:      unit.ID,
		UnitLabel:   unit.Label(),
		TenantName:  strings.TrimSpace(req.TenantName),
		Email:       strings.TrimSpace(req.Email),
		Phone:       strings.TrimSpace(req.Phone),
		MonthlyRent: unit.MonthlyRent,
		Deposit:     ledger.Money{Value: req.Deposit, Currency: unit.MonthlyRent.Currency},
		MoveInDate:  moveIn,
		CreatedAt:   h.now(),
	}
	if t.ID == "" {
		t.ID = ledger.TenancyID(uuid.NewString())
	}
	if req.MonthlyRent != nil {
		t.MonthlyRent = ledger.Money{Value: *req.MonthlyRent, Currency: unit.MonthlyRent.Currency}
	}
	if err := t.Validate(); err != nil {
		writeDomainError(w, "invalid tenancy", err)
		return
	}

	if err := h.Repo.SaveTenancy(ctx, t); err != nil {
		writeDomainError(w, "failed to create tenancy", err)
		return
	}
	writeJSON(w, http.StatusCreated, toTenancyDTO(t, ledger.ZeroMoney(t.MonthlyRent.Currency), h.now()))
}

// MoveOut ends a tenancy. The ledger history is kept.
func (h *Handler) MoveOut(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req MoveOutRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	date, err := parseDate(req.MoveOutDate, h.now())
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid move_out_date (use YYYY-MM-DD)", err)
		return
	}

	t, err := h.Repo.MoveOut(ctx, tenancyID(r), date)
	if err != nil {
		writeDomainError(w, "failed to move out", err)
		return
	}
	summary, err := h.Ledger.Summary(ctx, t.ID)
	if err != nil {
		writeDomainError(w, "failed to load balance", err)
		return
	}

	log.Info().
		Str("tenancy_id", string(t.ID)).
		Str("move_out_date", date.Format(dateLayout)).
		Str("actor", currentSession(r).Actor()).
		Msg("api: tenancy moved out")

	writeJSON(w, http.StatusOK, toTenancyDTO(*t, summary.Balance, h.now()))
}

// GetEntries returns a tenancy's entries oldest first with the running
// balance after each.
func (h *Handler) GetEntries(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	t, err := h.Repo.GetTenancy(ctx, tenancyID(r))
	if err != nil {
		writeDomainError(w, "tenancy not found", err)
		return
	}
	entries, err := h.Ledger.Entries(ctx, t.ID)
	if err != nil {
		writeDomainError(w, "failed to load entries", err)
		return
	}
	writeJSON(w, http.StatusOK, toEntryDTOs(ledger.RunningBalances(entries)))
}

// GetBalance returns ΣCHARGE − ΣPAYMENT for a tenancy with its components.
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	t, err := h.Repo.GetTenancy(ctx, tenancyID(r))
	if err != nil {
		writeDomainError(w, "tenancy not found", err)
		return
	}
	summary, err := h.Ledger.Summary(ctx, t.ID)
	if err != nil {
		writeDomainError(w, "failed to load balance", err)
		return
	}
	writeJSON(w, http.StatusOK, toBalanceDTO(summary))
}

// GetStatement returns the tenant statement as JSON, PDF or XLSX.
func (h *Handler) GetStatement(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	t, err := h.Repo.GetTenancy(ctx, tenancyID(r))
	if err != nil {
		writeDomainError(w, "tenancy not found", err)
		return
	}
	entries, err := h.Ledger.Entries(ctx, t.ID)
	if err != nil {
		writeDomainError(w, "failed to load entries", err)
		return
	}

	now := h.now()
	st := statement.Build(*t, entries, now)

	var (
		body        []byte
		contentType string
	)
	format := strings.ToLower(r.URL.Query().Get("format"))
	switch format {
	case "", "json":
		writeJSON(w, http.StatusOK, toStatementDTO(st, now))
		return
	case statement.FormatPDF:
		body, err = statement.RenderPDF(st)
		contentType = "application/pdf"
	case statement.FormatXLSX:
		body, err = statement.RenderXLSX(st)
		contentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	default:
		writeError(w, http.StatusBadRequest, "format must be json, pdf or xlsx", nil)
		return
	}
	if err != nil {
		writeDomainError(w, "failed to render statement", err)
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", st.Filename(format)))
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}

// ChargeTenancyRent charges rent to one tenancy.
func (h *Handler) ChargeTenancyRent(w http.ResponseWriter, r *http.Request) {
	var req ChargeTenancyRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	charge := rent.ChargeRequest{
		Period:  req.Month,
		Session: currentSession(r),
		Notify:  req.SendNotification,
	}
	if req.Amount != nil {
		m := ledger.Money{Value: *req.Amount, Currency: ledger.DefaultCurrency}
		charge.Amount = &m
	}

	out, err := h.Engine.ChargeTenancy(r.Context(), tenancyID(r), charge)
	if err != nil {
		writeDomainError(w, "failed to charge rent", err)
		return
	}

	status := http.StatusOK
	if out.Outcome == rent.OutcomeCharged {
		status = http.StatusCreated
	}
	writeJSON(w, status, toChargeOutcomeDTO(out))
}

// =============================================================================
// LEDGER ENDPOINTS
// =============================================================================

// CreateEntry records a payment or an ad hoc charge.
func (h *Handler) CreateEntry(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req CreateEntryRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	t, err := h.Repo.GetTenancy(ctx, ledger.TenancyID(req.TenancyID))
	if err != nil {
		writeDomainError(w, "tenancy not found", err)
		return
	}
	date, err := parseDate(req.TransactionDate, h.now())
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid transaction_date (use YYYY-MM-DD)", err)
		return
	}

	key, err := ledger.ManualIdempotencyKey(t.ID, req.IdempotencyKey)
	if err != nil {
		writeDomainError(w, "invalid idempotency_key", err)
		return
	}

	kind := ledger.EntryKind(strings.ToUpper(req.Type))
	description := strings.TrimSpace(req.Description)
	if description == "" && kind == ledger.KindPayment {
		description = "Payment received"
	}

	entry, err := h.Ledger.Record(ctx, ledger.Entry{
		TenancyID:       t.ID,
		Kind:            kind,
		Amount:          ledger.Money{Value: req.Amount, Currency: t.MonthlyRent.Currency},
		TransactionDate: date,
		Description:     description,
		PaymentMethod:   ledger.PaymentMethod(strings.ToUpper(req.PaymentMethod)),
		ReferenceNumber: strings.TrimSpace(req.ReferenceNumber),
		Notes:           req.Notes,
		IdempotencyKey:  key,
		CreatedBy:       currentSession(r).Actor(),
	})
	if err != nil {
		writeDomainError(w, "failed to record entry", err)
		return
	}

	summary, err := h.Ledger.Summary(ctx, t.ID)
	if err != nil {
		writeDomainError(w, "failed to load balance", err)
		return
	}

	if entry.Kind == ledger.KindPayment && req.SendNotification && h.Notifier != nil {
		err := h.Notifier.PaymentReceived(ctx, notify.PaymentReceived{
			To:      notify.RecipientOf(*t),
			Amount:  entry.Amount,
			Date:    entry.TransactionDate,
			Balance: summary.Balance,
		})
		if err != nil {
			log.Warn().Err(err).Str("tenancy_id", string(t.ID)).Msg("api: payment notification failed")
		}
	}

	dto := toEntryDTO(entry)
	dto.Balance = amount(summary.Balance)
	writeJSON(w, http.StatusCreated, dto)
}

// ChargeAllRent charges rent for a month to every active tenancy.
func (h *Handler) ChargeAllRent(w http.ResponseWriter, r *http.Request) {
	var req ChargeAllRentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	month := ledger.PeriodOf(h.now()).Label()
	if req.Month != nil {
		month = *req.Month
	}
	notifyTenants := true
	if req.SendNotifications != nil {
		notifyTenants = *req.SendNotifications
	}

	result, err := h.Engine.ChargeAll(r.Context(), month, rent.Options{
		Session: currentSession(r),
		DryRun:  req.DryRun,
		Notify:  notifyTenants,
	})
	if err != nil {
		writeDomainError(w, "failed to charge rent", err)
		return
	}
	writeJSON(w, http.StatusOK, toChargeAllRentResponse(result))
}

// ApplyLateFees assesses late fees as of a date, today by default.
func (h *Handler) ApplyLateFees(w http.ResponseWriter, r *http.Request) {
	var req ApplyLateFeesRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	asOf, err := parseDate(req.AsOf, h.now())
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid as_of (use YYYY-MM-DD)", err)
		return
	}

	assessor := *h.Assessor
	if req.GraceDays != nil {
		assessor.Policy.GraceDays = *req.GraceDays
	}
	if req.Percent != nil {
		assessor.Policy.Percent = *req.Percent
	}
	if req.Minimum != nil {
		assessor.Policy.Minimum = ledger.Money{Value: *req.Minimum, Currency: ledger.DefaultCurrency}
	}

	result, err := assessor.Apply(r.Context(), asOf, latefee.Options{
		Session: currentSession(r),
		DryRun:  req.DryRun,
		Notify:  req.SendNotifications,
	})
	if err != nil {
		writeDomainError(w, "failed to apply late fees", err)
		return
	}
	writeJSON(w, http.StatusOK, toApplyLateFeesResponse(result))
}

// SendReminders reminds every overdue tenancy as of a date, today by default.
func (h *Handler) SendReminders(w http.ResponseWriter, r *http.Request) {
	var req SendRemindersRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	asOf, err := parseDate(req.AsOf, h.now())
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid as_of (use YYYY-MM-DD)", err)
		return
	}

	reminder := latefee.NewReminder(h.Repo, h.Notifier, h.ReminderDays)
	if req.Days != nil {
		reminder.Days = *req.Days
	}
	result, err := reminder.Send(r.Context(), asOf, latefee.ReminderOptions{DryRun: req.DryRun})
	if err != nil {
		writeDomainError(w, "failed to send reminders", err)
		return
	}
	writeJSON(w, http.StatusOK, toSendRemindersResponse(result))
}

// =============================================================================
// DASHBOARD AND PERIODS
// =============================================================================

// ListPeriods returns the billing months to offer, oldest first.
func (h *Handler) ListPeriods(w http.ResponseWriter, r *http.Request) {
	now := h.now()
	current := ledger.PeriodOf(now).Key()

	options := ledger.PeriodOptions(now)
	dtos := make([]PeriodDTO, len(options))
	for i, p := range options {
		dtos[i] = PeriodDTO{Key: p.Key(), Label: p.Label(), Current: p.Key() == current}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// Dashboard returns the portfolio roll-up.
func (h *Handler) Dashboard(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	now := h.now()

	tenancies, err := h.Repo.ListTenancies(ctx)
	if err != nil {
		writeDomainError(w, "failed to list tenancies", err)
		return
	}

	byID := make(map[ledger.TenancyID][]ledger.Entry, len(tenancies))
	names := make(map[ledger.TenancyID]string, len(tenancies))
	for _, t := range tenancies {
		entries, err := h.Ledger.Entries(ctx, t.ID)
		if err != nil {
			writeDomainError(w, "failed to load entries", err)
			return
		}
		byID[t.ID] = entries
		names[t.ID] = t.TenantName
	}

	writeJSON(w, http.StatusOK, toDashboardDTO(statement.Summarize(tenancies, byID, now), names, now))
}

// =============================================================================
// SCENARIO ENDPOINTS
// =============================================================================

// ListScenarios returns the demo scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, seed.Scenarios)
}

// LoadScenario loads a demo scenario. Loading twice is harmless.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	loaded, err := seed.Load(r.Context(), h.Repo, req.ScenarioID, h.now())
	if err != nil {
		writeDomainError(w, "failed to load scenario", err)
		return
	}
	writeJSON(w, http.StatusOK, LoadScenarioResponse{
		Scenario:  loaded.Scenario.ID,
		Units:     loaded.Units,
		Tenancies: loaded.Tenancies,
		Entries:   loaded.Entries,
	})
}

// =============================================================================
// HELPERS
// =============================================================================

func tenancyID(r *http.Request) ledger.TenancyID {
	return ledger.TenancyID(chi.URLParam(r, "id"))
}

// decodeJSON decodes the request body into v. An empty body leaves v as is.
func decodeJSON(r *http.Request, v any) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

// parseDate reads a YYYY-MM-DD date, returning def's date when s is empty.
func parseDate(s string, def time.Time) (time.Time, error) {
	if s == "" {
		return ledger.Date(def), nil
	}
	return time.Parse(dateLayout, s)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError maps ledger, rent and seed errors to HTTP statuses.
func writeDomainError(w http.ResponseWriter, message string, err error) {
	switch {
	case errors.Is(err, rent.ErrChargeInProgress):
		writeError(w, http.StatusConflict, "a rent run for this period is already in progress", err)
	case ledger.IsNotFound(err):
		writeError(w, http.StatusNotFound, message, err)
	case ledger.IsConflict(err):
		writeError(w, http.StatusConflict, message, err)
	case ledger.IsClientError(err), errors.Is(err, seed.ErrUnknownScenario):
		writeError(w, http.StatusBadRequest, message, err)
	case errors.Is(err, ledger.ErrStoreUnavailable):
		writeError(w, http.StatusServiceUnavailable, message, err)
	default:
		log.Error().Err(err).Msg("api: " + message)
		writeError(w, http.StatusInternalServerError, message, err)
	}
}
