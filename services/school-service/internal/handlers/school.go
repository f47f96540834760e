package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/md-rashed-zaman/schoolportal/libs/auth"
	"github.com/md-rashed-zaman/schoolportal/services/school-service/internal/accounts"
	"github.com/md-rashed-zaman/schoolportal/services/school-service/internal/lifecycle"
	"github.com/md-rashed-zaman/schoolportal/services/school-service/internal/plans"
)

const maxBodyBytes = 1 << 20

// Routes lists the API paths, for metric labels.
var Routes = []string{
	"/api/v1/plans",
	"/api/v1/schools",
	"/api/v1/account",
	"/api/v1/account/profile",
	"/api/v1/subscription",
	"/api/v1/invoices",
	"/api/v1/seats",
}

type Handler struct {
	svc    *lifecycle.Service
	logger *slog.Logger
}

func New(svc *lifecycle.Service, logger *slog.Logger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

// Register mounts the API on mux. protect wraps every route that needs a
// caller identity.
func (h *Handler) Register(mux *http.ServeMux, protect func(http.Handler) http.Handler) {
	mux.HandleFunc("/api/v1/schools", h.Schools)
	mux.Handle("/api/v1/plans", protect(http.HandlerFunc(h.Plans)))
	mux.Handle("/api/v1/account", protect(http.HandlerFunc(h.Account)))
	mux.Handle("/api/v1/account/profile", protect(http.HandlerFunc(h.Profile)))
	mux.Handle("/api/v1/subscription", protect(http.HandlerFunc(h.Subscription)))
	mux.Handle("/api/v1/invoices", protect(http.HandlerFunc(h.Invoices)))
	mux.Handle("/api/v1/seats", protect(http.HandlerFunc(h.Seats)))
}

func callerFrom(r *http.Request) (accounts.Caller, bool) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok || strings.TrimSpace(claims.Sub) == "" {
		return accounts.Caller{}, false
	}
	return accounts.Caller{AccountID: claims.Sub}, true
}

type subscriptionView struct {
	Active      bool       `json:"active"`
	Plan        string     `json:"plan,omitempty"`
	Amount      int        `json:"amount"`
	Duration    string     `json:"duration,omitempty"`
	ActivatedAt *time.Time `json:"activatedAt,omitempty"`
	State       string     `json:"state"`
	EndsAt      *time.Time `json:"endsAt,omitempty"`
	Remaining   string     `json:"remaining,omitempty"`
}

type seatView struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Secret string `json:"secret,omitempty"`
}

type accountView struct {
	ID             string                  `json:"id"`
	Version        int64                   `json:"version"`
	Profile        *accounts.SchoolProfile `json:"profile"`
	Subscription   subscriptionView        `json:"subscription"`
	Seats          []seatView              `json:"seats"`
	SeatLimit      int                     `json:"seatLimit"`
	SeatsAvailable int                     `json:"seatsAvailable"`
	CanAddSeat     bool                    `json:"canAddSeat"`
	AddSeatReason  string                  `json:"addSeatBlockedReason,omitempty"`
}

func toAccountView(ov lifecycle.Overview) accountView {
	a := ov.Account
	out := accountView{
		ID:             a.ID,
		Version:        a.Version,
		Profile:        a.Profile,
		Seats:          make([]seatView, 0, len(a.Seats)),
		SeatLimit:      ov.SeatLimit,
		SeatsAvailable: ov.SeatsAvailable,
		CanAddSeat:     ov.AddSeatBlocked == nil,
		Subscription: subscriptionView{
			Active:      a.Subscription.Active,
			Plan:        string(a.Subscription.Plan),
			Amount:      a.Subscription.Amount,
			Duration:    string(a.Subscription.Duration),
			ActivatedAt: a.Subscription.ActivatedAt,
			State:       string(ov.Status.State),
			EndsAt:      ov.Status.EndsAt,
			Remaining:   ov.Status.Remaining,
		},
	}
	if ov.AddSeatBlocked != nil {
		out.AddSeatReason = ov.AddSeatBlocked.Error()
	}
	for _, s := range a.Seats {
		out.Seats = append(out.Seats, seatView{ID: s.ID, Name: s.Name})
	}
	return out
}

func (h *Handler) Account(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	caller, ok := callerFrom(r)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	ov, err := h.svc.Overview(r.Context(), caller)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAccountView(ov))
}

func (h *Handler) Profile(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	caller, ok := callerFrom(r)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	var req accounts.SchoolProfile
	if !decode(w, r, &req) {
		return
	}
	if _, err := h.svc.SaveProfile(r.Context(), caller, req); err != nil {
		h.writeError(w, r, err)
		return
	}
	ov, err := h.svc.Overview(r.Context(), caller)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAccountView(ov))
}

type changePlanRequest struct {
	Plan     string `json:"plan"`
	Duration string `json:"duration"`
}

type invoiceView struct {
	ID         string    `json:"id"`
	Plan       string    `json:"plan"`
	Amount     int       `json:"amount"`
	Duration   string    `json:"duration"`
	IssuedAt   time.Time `json:"issuedAt"`
	Status     string    `json:"status"`
	SchoolName string    `json:"schoolName,omitempty"`
	Mobile     string    `json:"mobile,omitempty"`
}

func toInvoiceView(inv accounts.Invoice) invoiceView {
	return invoiceView{
		ID:         inv.ID,
		Plan:       string(inv.Plan),
		Amount:     inv.Amount,
		Duration:   string(inv.Duration),
		IssuedAt:   inv.IssuedAt,
		Status:     string(inv.Status),
		SchoolName: inv.SchoolName,
		Mobile:     inv.Mobile,
	}
}

func (h *Handler) Subscription(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	caller, ok := callerFrom(r)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	var req changePlanRequest
	if !decode(w, r, &req) {
		return
	}
	duration, err := plans.ParseDuration(req.Duration)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	key := r.Header.Get("Idempotency-Key")
	res, err := h.svc.ChangePlan(r.Context(), caller, plans.Name(strings.TrimSpace(req.Plan)), duration, key)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	body := map[string]any{
		"subscription": subscriptionView{
			Active:      res.Subscription.Active,
			Plan:        string(res.Subscription.Plan),
			Amount:      res.Subscription.Amount,
			Duration:    string(res.Subscription.Duration),
			ActivatedAt: res.Subscription.ActivatedAt,
			State:       string(res.Status.State),
			EndsAt:      res.Status.EndsAt,
			Remaining:   res.Status.Remaining,
		},
		"seatLimit": res.SeatLimit,
		"replayed":  res.Replayed,
	}
	code := http.StatusOK
	if res.Invoice != nil {
		body["invoice"] = toInvoiceView(*res.Invoice)
		code = http.StatusCreated
	}
	writeJSON(w, code, body)
}

func (h *Handler) Invoices(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	caller, ok := callerFrom(r)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	list, err := h.svc.Invoices(r.Context(), caller)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	out := make([]invoiceView, 0, len(list))
	for _, inv := range list {
		out = append(out, toInvoiceView(inv))
	}
	writeJSON(w, http.StatusOK, map[string]any{"invoices": out})
}

type durationOptionView struct {
	Duration string `json:"duration"`
	Price    int    `json:"price"`
	Current  bool   `json:"current"`
	Eligible bool   `json:"eligible"`
}

type planView struct {
	plans.Tier
	Options []durationOptionView `json:"options"`
}

func (h *Handler) Plans(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	caller, ok := callerFrom(r)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	catalog, err := h.svc.Catalog(r.Context(), caller)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	out := make([]planView, 0, len(catalog))
	for _, p := range catalog {
		v := planView{Tier: p.Tier}
		for _, o := range p.Options {
			v.Options = append(v.Options, durationOptionView{
				Duration: string(o.Duration),
				Price:    o.Price,
				Current:  o.Current,
				Eligible: o.Eligible,
			})
		}
		out = append(out, v)
	}
	writeJSON(w, http.StatusOK, map[string]any{"plans": out})
}

func (h *Handler) Schools(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	list, err := h.svc.ListSchools(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if list == nil {
		list = []accounts.SchoolSummary{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"schools": list})
}

type stagedSeatRequest struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Secret string `json:"secret"`
}

type saveSeatsRequest struct {
	Version int64               `json:"version"`
	Seats   []stagedSeatRequest `json:"seats"`
}

// Seats handles POST (provision one), PUT (save the staged list) and
// DELETE ?id= on the seat collection.
func (h *Handler) Seats(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(r)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	switch r.Method {
	case http.MethodPost:
		seat, err := h.svc.ProvisionSeat(r.Context(), caller)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, seatView{ID: seat.ID, Name: seat.Name, Secret: seat.Secret})
	case http.MethodPut:
		var req saveSeatsRequest
		if !decode(w, r, &req) {
			return
		}
		draft := lifecycle.StagedSeats{BaseVersion: req.Version}
		for _, s := range req.Seats {
			draft.Seats = append(draft.Seats, lifecycle.StagedSeat{ID: s.ID, Name: s.Name, Secret: s.Secret})
		}
		res, err := h.svc.SaveSeats(r.Context(), caller, draft)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		seats := make([]seatView, 0, len(res.Account.Seats))
		for _, s := range res.Account.Seats {
			seats = append(seats, seatView{ID: s.ID, Name: s.Name})
		}
		issued := make([]seatView, 0, len(res.Issued))
		for _, s := range res.Issued {
			issued = append(issued, seatView{ID: s.ID, Name: s.Name, Secret: s.Secret})
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"version": res.Account.Version,
			"seats":   seats,
			"issued":  issued,
		})
	case http.MethodDelete:
		id := strings.TrimSpace(r.URL.Query().Get("id"))
		if id == "" {
			http.Error(w, "id is required", http.StatusBadRequest)
			return
		}
		// Unknown ids are a no-op.
		if _, err := h.svc.DeleteSeat(r.Context(), caller, id); err != nil {
			h.writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
			return false
		}
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
