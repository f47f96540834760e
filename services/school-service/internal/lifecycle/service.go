package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/md-rashed-zaman/schoolportal/services/school-service/internal/accounts"
	"github.com/md-rashed-zaman/schoolportal/services/school-service/internal/invoices"
	"github.com/md-rashed-zaman/schoolportal/services/school-service/internal/metrics"
	"github.com/md-rashed-zaman/schoolportal/services/school-service/internal/outbox"
	"github.com/md-rashed-zaman/schoolportal/services/school-service/internal/plans"
	"github.com/md-rashed-zaman/schoolportal/services/school-service/internal/seats"
	"github.com/md-rashed-zaman/schoolportal/services/school-service/internal/storage"
	"github.com/md-rashed-zaman/schoolportal/services/school-service/internal/subscriptions"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/crypto/bcrypt"
)

const maxIdempotencyKeyLen = 128

// Service sequences the plan catalog, subscription state machine, invoice
// ledger and seat enforcer against the store. Every mutating call runs in a
// single WithAccount transaction.
type Service struct {
	store    storage.Store
	ledger   *invoices.Ledger
	logger   *slog.Logger
	metrics  *metrics.Metrics
	tracer   trace.Tracer
	hashCost int
	now      func() time.Time
}

type Config struct {
	// HashCost is the bcrypt cost for seat secrets.
	HashCost int
	Now      func() time.Time
}

func New(store storage.Store, logger *slog.Logger, m *metrics.Metrics, cfg Config) *Service {
	if cfg.HashCost == 0 {
		cfg.HashCost = bcrypt.DefaultCost
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}
	return &Service{
		store:    store,
		ledger:   invoices.NewLedger(store),
		logger:   logger,
		metrics:  m,
		tracer:   otel.Tracer("school-service/lifecycle"),
		hashCost: cfg.HashCost,
		now:      cfg.Now,
	}
}

type Overview struct {
	Account        *accounts.Account
	Status         subscriptions.Snapshot
	SeatLimit      int
	SeatsAvailable int
	// AddSeatBlocked is nil when a seat can be provisioned right now.
	AddSeatBlocked error
}

func (s *Service) Overview(ctx context.Context, caller accounts.Caller) (Overview, error) {
	ctx, span := s.start(ctx, "lifecycle.Overview", caller)
	defer span.End()

	a, err := s.store.EnsureAccount(ctx, caller.AccountID)
	if err != nil {
		return Overview{}, s.fail(span, err)
	}
	return s.overview(a), nil
}

func (s *Service) overview(a *accounts.Account) Overview {
	now := s.now()
	out := Overview{
		Account:        a,
		Status:         subscriptions.Status(a.Subscription, now),
		AddSeatBlocked: seats.CanAddSeat(a, now),
	}
	if a.Subscription.Active {
		if limit, err := plans.SeatLimitOf(a.Subscription.Plan); err == nil {
			out.SeatLimit = limit
			if free := limit - len(a.Seats); free > 0 {
				out.SeatsAvailable = free
			}
		}
	}
	return out
}

type ChangePlanResult struct {
	Subscription accounts.Subscription
	Status       subscriptions.Snapshot
	Invoice      *accounts.Invoice
	SeatLimit    int
	// Replayed is set when the idempotency key was already used; nothing
	// was written and the current state is returned.
	Replayed bool
}

// ChangePlan activates plan/duration for the caller, appends the invoice and
// queues the events in one transaction.
func (s *Service) ChangePlan(ctx context.Context, caller accounts.Caller, plan plans.Name, duration plans.Duration, idempotencyKey string) (ChangePlanResult, error) {
	ctx, span := s.start(ctx, "lifecycle.ChangePlan", caller)
	defer span.End()
	span.SetAttributes(attribute.String("plan", string(plan)), attribute.String("duration", string(duration)))

	idempotencyKey = strings.TrimSpace(idempotencyKey)
	if len(idempotencyKey) > maxIdempotencyKeyLen {
		return ChangePlanResult{}, fmt.Errorf("%w: idempotency key longer than %d characters", plans.ErrInvalidPlan, maxIdempotencyKeyLen)
	}

	var res ChangePlanResult
	err := s.withAccount(ctx, caller, func(ctx context.Context, a *accounts.Account, tx storage.Tx) error {
		now := s.now()
		res = ChangePlanResult{}
		if idempotencyKey != "" {
			claimed, err := tx.ClaimIdempotencyKey(ctx, idempotencyKey)
			if err != nil {
				return err
			}
			if !claimed {
				res.Replayed = true
				res.Subscription = a.Subscription
				res.Status = subscriptions.Status(a.Subscription, now)
				res.SeatLimit, _ = plans.SeatLimitOf(a.Subscription.Plan)
				return nil
			}
		}

		sub, err := subscriptions.Activate(a.Subscription, plan, duration, now)
		if err != nil {
			return err
		}
		inv, err := invoices.NewInvoice(sub, a.Profile, now, idempotencyKey)
		if err != nil {
			return err
		}
		if err := tx.MergeWrite(ctx, storage.Patch{Subscription: &sub}); err != nil {
			return err
		}
		if err := invoices.Append(ctx, tx, a.ID, inv); err != nil {
			return err
		}
		limit, err := plans.SeatLimitOf(sub.Plan)
		if err != nil {
			return err
		}
		evt, err := outbox.NewAccountEvent(a.ID, outbox.SubscriptionActivated, map[string]any{
			"account_id":   a.ID,
			"plan":         sub.Plan,
			"duration":     sub.Duration,
			"amount":       sub.Amount,
			"seat_limit":   limit,
			"activated_at": sub.ActivatedAt.Format(time.RFC3339),
		})
		if err != nil {
			return err
		}
		if err := tx.Enqueue(ctx, evt); err != nil {
			return err
		}

		res.Subscription = sub
		res.Status = subscriptions.Status(sub, now)
		res.Invoice = &inv
		res.SeatLimit = limit
		return nil
	})
	if err != nil {
		s.metrics.PlanRejected(reason(err))
		return ChangePlanResult{}, s.fail(span, err)
	}

	if res.Replayed {
		s.metrics.Replayed()
		s.logger.Info("plan change replayed", "account_id", caller.AccountID, "idempotency_key", idempotencyKey)
		return res, nil
	}
	s.metrics.PlanChanged(string(res.Subscription.Plan), string(res.Subscription.Duration))
	s.logger.Info("plan changed",
		"account_id", caller.AccountID,
		"plan", res.Subscription.Plan,
		"duration", res.Subscription.Duration,
		"amount", res.Subscription.Amount,
		"invoice_id", res.Invoice.ID,
	)
	return res, nil
}

func (s *Service) SaveProfile(ctx context.Context, caller accounts.Caller, profile accounts.SchoolProfile) (*accounts.Account, error) {
	ctx, span := s.start(ctx, "lifecycle.SaveProfile", caller)
	defer span.End()

	profile = profile.Normalize()
	if err := profile.Validate(); err != nil {
		return nil, s.fail(span, err)
	}

	var out *accounts.Account
	err := s.withAccount(ctx, caller, func(ctx context.Context, a *accounts.Account, tx storage.Tx) error {
		patch := storage.Patch{Profile: &profile}
		if err := tx.MergeWrite(ctx, patch); err != nil {
			return err
		}
		evt, err := outbox.NewAccountEvent(a.ID, outbox.ProfileUpdated, map[string]string{
			"account_id": a.ID,
			"name":       profile.Name,
			"short_name": profile.ShortName,
		})
		if err != nil {
			return err
		}
		if err := tx.Enqueue(ctx, evt); err != nil {
			return err
		}
		patch.Apply(a, s.now())
		out = a
		return nil
	})
	if err != nil {
		return nil, s.fail(span, err)
	}
	s.logger.Info("profile saved", "account_id", caller.AccountID)
	return out, nil
}

// ProvisionSeat adds one seat and persists it under the account lock, so
// concurrent calls can never exceed the plan's seat limit. The returned seat
// carries its cleartext secret; it is not retrievable afterwards.
func (s *Service) ProvisionSeat(ctx context.Context, caller accounts.Caller) (accounts.Seat, error) {
	ctx, span := s.start(ctx, "lifecycle.ProvisionSeat", caller)
	defer span.End()

	var created accounts.Seat
	err := s.withAccount(ctx, caller, func(ctx context.Context, a *accounts.Account, tx storage.Tx) error {
		now := s.now()
		if err := seats.CanAddSeat(a, now); err != nil {
			return err
		}
		seat, ok := seats.AddSeat(a, now)
		if !ok {
			return accounts.ErrQuotaExceeded
		}
		if err := s.persistSeats(ctx, tx, a); err != nil {
			return err
		}
		created = seat
		return nil
	})
	if err != nil {
		s.metrics.SeatOp("provision", reason(err))
		return accounts.Seat{}, s.fail(span, err)
	}
	s.metrics.SeatOp("provision", "ok")
	s.logger.Info("seat provisioned", "account_id", caller.AccountID, "seat_id", created.ID, "seat_name", created.Name)
	return created, nil
}

// StagedSeat is one entry of an edited seat list. An empty ID adds a seat;
// a non-empty Secret replaces the seat's credential.
type StagedSeat struct {
	ID     string
	Name   string
	Secret string
}

// StagedSeats is the full seat list as edited by the caller, based on the
// account version they loaded.
type StagedSeats struct {
	BaseVersion int64
	Seats       []StagedSeat
}

type SaveSeatsResult struct {
	Account *accounts.Account
	// Issued lists seats whose cleartext secret was set by this save.
	Issued []accounts.Seat
}

// SaveSeats replaces the account's seat list with draft. It fails with
// ErrConflict if the account changed since draft.BaseVersion, and leaves the
// stored seats untouched on any validation failure.
func (s *Service) SaveSeats(ctx context.Context, caller accounts.Caller, draft StagedSeats) (SaveSeatsResult, error) {
	ctx, span := s.start(ctx, "lifecycle.SaveSeats", caller)
	defer span.End()

	var res SaveSeatsResult
	err := s.withAccount(ctx, caller, func(ctx context.Context, a *accounts.Account, tx storage.Tx) error {
		res = SaveSeatsResult{}
		if a.Version != draft.BaseVersion {
			return fmt.Errorf("%w: draft is based on version %d, account is at %d", accounts.ErrConflict, draft.BaseVersion, a.Version)
		}

		existing := make(map[string]accounts.Seat, len(a.Seats))
		for _, seat := range a.Seats {
			existing[seat.ID] = seat
		}

		next := make([]accounts.Seat, 0, len(draft.Seats))
		added := 0
		for _, staged := range draft.Seats {
			seat, ok := existing[staged.ID]
			if !ok {
				if staged.ID != "" {
					return fmt.Errorf("%w: unknown seat %q", accounts.ErrInvalidSeat, staged.ID)
				}
				added++
				seat = accounts.Seat{ID: uuid.NewString()}
				if staged.Secret == "" {
					staged.Secret = seats.NewSecret()
				}
			}
			delete(existing, seat.ID)
			seat.Name = staged.Name
			if staged.Secret != "" {
				seat.Secret = staged.Secret
			}
			next = append(next, seat)
		}

		if added > 0 {
			if err := seats.CheckEligible(a, s.now()); err != nil {
				return err
			}
		}
		a.Seats = next
		if err := seats.ValidateForSave(a); err != nil {
			return err
		}
		for _, seat := range a.Seats {
			if seat.Secret != "" {
				res.Issued = append(res.Issued, seat)
			}
		}
		if err := s.persistSeats(ctx, tx, a); err != nil {
			return err
		}
		a.Version++
		res.Account = a
		return nil
	})
	if err != nil {
		s.metrics.SeatOp("save", reason(err))
		return SaveSeatsResult{}, s.fail(span, err)
	}
	s.metrics.SeatOp("save", "ok")
	s.logger.Info("seats saved", "account_id", caller.AccountID, "seats", len(res.Account.Seats))
	return res, nil
}

// DeleteSeat removes a seat and persists immediately. Deleting an unknown
// id is a no-op and reports false.
func (s *Service) DeleteSeat(ctx context.Context, caller accounts.Caller, seatID string) (bool, error) {
	ctx, span := s.start(ctx, "lifecycle.DeleteSeat", caller)
	defer span.End()

	var removed bool
	err := s.withAccount(ctx, caller, func(ctx context.Context, a *accounts.Account, tx storage.Tx) error {
		removed = seats.DeleteSeat(a, seatID)
		if !removed {
			return nil
		}
		return s.persistSeats(ctx, tx, a)
	})
	if err != nil {
		s.metrics.SeatOp("delete", reason(err))
		return false, s.fail(span, err)
	}
	if removed {
		s.metrics.SeatOp("delete", "ok")
		s.logger.Info("seat deleted", "account_id", caller.AccountID, "seat_id", seatID)
	}
	return removed, nil
}

func (s *Service) persistSeats(ctx context.Context, tx storage.Tx, a *accounts.Account) error {
	if err := seats.ValidateForSave(a); err != nil {
		return err
	}
	if err := seats.PrepareForSave(a, s.hashCost); err != nil {
		return err
	}
	list := a.Seats
	if err := tx.MergeWrite(ctx, storage.Patch{Seats: &list}); err != nil {
		return err
	}
	names := make([]string, 0, len(list))
	for _, seat := range list {
		names = append(names, seat.Name)
	}
	evt, err := outbox.NewAccountEvent(a.ID, outbox.SeatsChanged, map[string]any{
		"account_id": a.ID,
		"seats":      names,
	})
	if err != nil {
		return err
	}
	return tx.Enqueue(ctx, evt)
}

func (s *Service) Invoices(ctx context.Context, caller accounts.Caller) ([]accounts.Invoice, error) {
	ctx, span := s.start(ctx, "lifecycle.Invoices", caller)
	defer span.End()

	list, err := s.ledger.List(ctx, caller.AccountID)
	if errors.Is(err, accounts.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, s.fail(span, err)
	}
	return list, nil
}

type DurationOption struct {
	Duration plans.Duration
	Price    int
	Current  bool
	// Eligible is false when activating this option would be rejected.
	Eligible bool
}

type PlanOption struct {
	Tier    plans.Tier
	Options []DurationOption
}

// Catalog lists every plan and duration with whether the caller may
// activate it from their current subscription.
func (s *Service) Catalog(ctx context.Context, caller accounts.Caller) ([]PlanOption, error) {
	ctx, span := s.start(ctx, "lifecycle.Catalog", caller)
	defer span.End()

	var current accounts.Subscription
	a, err := s.store.ReadAccount(ctx, caller.AccountID)
	switch {
	case err == nil:
		current = a.Subscription
	case errors.Is(err, accounts.ErrNotFound):
	default:
		return nil, s.fail(span, err)
	}

	var out []PlanOption
	for _, tier := range plans.All() {
		opt := PlanOption{Tier: tier}
		for _, d := range []plans.Duration{plans.Monthly, plans.Yearly} {
			price, _ := tier.Price(d)
			opt.Options = append(opt.Options, DurationOption{
				Duration: d,
				Price:    price,
				Current:  current.Active && current.Plan == tier.Name && current.Duration == d,
				Eligible: subscriptions.CanActivate(current, tier.Name, d) == nil,
			})
		}
		out = append(out, opt)
	}
	return out, nil
}

// ListSchools is the public directory of schools with a completed profile.
func (s *Service) ListSchools(ctx context.Context) ([]accounts.SchoolSummary, error) {
	ctx, span := s.tracer.Start(ctx, "lifecycle.ListSchools")
	defer span.End()

	list, err := s.store.ListSchools(ctx)
	if err != nil {
		return nil, s.fail(span, err)
	}
	return list, nil
}

// withAccount runs fn under the account lock, creating the account on
// first use.
func (s *Service) withAccount(ctx context.Context, caller accounts.Caller, fn func(context.Context, *accounts.Account, storage.Tx) error) error {
	if caller.AccountID == "" {
		return accounts.ErrNotFound
	}
	err := s.store.WithAccount(ctx, caller.AccountID, fn)
	if !errors.Is(err, accounts.ErrNotFound) {
		return err
	}
	if _, err := s.store.EnsureAccount(ctx, caller.AccountID); err != nil {
		return err
	}
	return s.store.WithAccount(ctx, caller.AccountID, fn)
}

func (s *Service) start(ctx context.Context, name string, caller accounts.Caller) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, name, trace.WithAttributes(attribute.String("account.id", caller.AccountID)))
}

func (s *Service) fail(span trace.Span, err error) error {
	if errors.Is(err, accounts.ErrStoreUnavailable) {
		s.metrics.StoreUnavailable()
		s.logger.Warn("store unavailable", "err", err)
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, reason(err))
	return err
}

// reason maps an error to a short metric label.
func reason(err error) string {
	switch {
	case errors.Is(err, plans.ErrInvalidPlan):
		return "invalid_plan"
	case errors.Is(err, accounts.ErrUpgradeNotAllowed):
		return "upgrade_not_allowed"
	case errors.Is(err, accounts.ErrDuplicateSeatName):
		return "duplicate_seat_name"
	case errors.Is(err, accounts.ErrQuotaExceeded):
		return "quota_exceeded"
	case errors.Is(err, accounts.ErrProfileIncomplete):
		return "profile_incomplete"
	case errors.Is(err, accounts.ErrSubscriptionInactive):
		return "subscription_inactive"
	case errors.Is(err, accounts.ErrSubscriptionExpired):
		return "subscription_expired"
	case errors.Is(err, accounts.ErrInvalidProfile):
		return "invalid_profile"
	case errors.Is(err, accounts.ErrInvalidSeat):
		return "invalid_seat"
	case errors.Is(err, accounts.ErrConflict):
		return "conflict"
	case errors.Is(err, accounts.ErrNotFound):
		return "not_found"
	case errors.Is(err, accounts.ErrStoreUnavailable):
		return "store_unavailable"
	default:
		return "error"
	}
}
