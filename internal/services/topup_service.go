package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"topup/internal/amqp"
	"topup/internal/balance"
	"topup/internal/core"
	tlog "topup/internal/log"
	"topup/internal/policy"
	"topup/internal/registry"
)

// State is a step of the top-up state machine.
type State string

const (
	StateStart          State = "start"
	StateBalanceFetched State = "balance_fetched"
	StateValidated      State = "validated"
	StateDebited        State = "debited"
	StateChargeApplied  State = "charge_applied"
	StateRecorded       State = "recorded"
	StateRejected       State = "rejected"
)

// EventPublisher receives one event per top-up attempt.
type EventPublisher interface {
	PublishTopUpEvent(ctx context.Context, evt *amqp.TopUpEvent) error
}

// Options configures a TopUpService. Start from DefaultOptions; zero Limits,
// Charge, Now and NewID are replaced by their defaults.
type Options struct {
	Limits                 policy.Limits
	Charge                 decimal.Decimal
	Now                    func() time.Time
	NewID                  func() string
	Publisher              EventPublisher
	CompensateFailedCharge bool
	Logger                 *tlog.Logger
}

func DefaultOptions() Options {
	return Options{
		Limits:                 policy.DefaultLimits(),
		Charge:                 core.TransactionCharge,
		Now:                    time.Now,
		NewID:                  uuid.NewString,
		CompensateFailedCharge: true,
	}
}

// Result describes how far a top-up got. Balance is the last balance the
// service reported, meaningful only when BalanceKnown is set.
type Result struct {
	State         State
	BeneficiaryID int64
	Nickname      string
	Amount        decimal.Decimal
	Charge        decimal.Decimal
	Balance       decimal.Decimal
	BalanceKnown  bool
	Transaction   *core.Transaction

	// Compensated is set when the charge debit failed and the top-up
	// amount was credited back.
	Compensated  bool
	// Inconsistent is set when funds left the balance but no transaction
	// was recorded.
	Inconsistent bool
}

// TopUpService runs top-ups against the remote balance service and keeps the
// beneficiary registry in step with what was debited. Operations that touch
// the balance are serialised.
type TopUpService struct {
	mu         sync.Mutex
	balance    balance.Service
	registry   *registry.Registry
	limits     policy.Limits
	charge     decimal.Decimal
	now        func() time.Time
	newID      func() string
	publisher  EventPublisher
	compensate bool
	logger     *tlog.Logger

	cacheMu  sync.RWMutex
	cached   decimal.Decimal
	cachedAt time.Time
	cacheOK  bool
}

func NewTopUpService(bal balance.Service, reg *registry.Registry, opts Options) *TopUpService {
	def := DefaultOptions()
	if opts.Limits == (policy.Limits{}) {
		opts.Limits = def.Limits
	}
	if opts.Charge.IsZero() {
		opts.Charge = def.Charge
	}
	if opts.Now == nil {
		opts.Now = def.Now
	}
	if opts.NewID == nil {
		opts.NewID = def.NewID
	}
	if opts.Logger == nil {
		opts.Logger = tlog.FromContext(context.Background())
	}
	if reg == nil {
		reg = registry.New(registry.MaxBeneficiaries)
	}
	return &TopUpService{
		balance:    bal,
		registry:   reg,
		limits:     opts.Limits,
		charge:     opts.Charge,
		now:        opts.Now,
		newID:      opts.NewID,
		publisher:  opts.Publisher,
		compensate: opts.CompensateFailedCharge,
		logger:     opts.Logger.WithComponent(tlog.ComponentTopUp),
	}
}

// TopUp sends amount to the beneficiary registered under nickname.
//
// The amount and the beneficiary are checked before any remote call. The
// balance is then fetched, the charge-inclusive amount and the monthly caps
// are checked, and two debits are issued: the amount, then the charge. Only
// when both succeed is a transaction recorded. A rejection wraps exactly one
// core sentinel and nothing is recorded. Cancelling ctx once the checks have
// passed does not interrupt the debits or a refund.
func (s *TopUpService) TopUp(ctx context.Context, nickname string, amount decimal.Decimal) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res := Result{State: StateStart, Nickname: nickname, Amount: amount, Charge: s.charge}
	err := s.topUp(ctx, &res)
	if err != nil {
		res.State = StateRejected
	}
	s.report(context.WithoutCancel(ctx), res, err)
	return res, err
}

func (s *TopUpService) topUp(ctx context.Context, res *Result) error {
	if !core.IsDenomination(res.Amount) {
		return fmt.Errorf("%w: %s is not a permitted denomination", core.ErrInvalidAmount, res.Amount)
	}
	ben, ok := s.registry.Find(res.Nickname)
	if !ok {
		return fmt.Errorf("%w: %q", core.ErrBeneficiaryNotFound, res.Nickname)
	}
	res.BeneficiaryID = ben.ID

	current, err := s.balance.Fetch(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", core.ErrBalanceUnavailable, err)
	}
	s.remember(current)
	res.Balance, res.BalanceKnown = current, true
	res.State = StateBalanceFetched

	if required := res.Amount.Add(s.charge); required.GreaterThan(current) {
		return fmt.Errorf("%w: amount %s + charge %s > balance %s",
			core.ErrInsufficientFunds, res.Amount, s.charge, current)
	}

	err = s.limits.Check(policy.Request{
		Amount:        res.Amount,
		Verified:      ben.Verified,
		Balance:       current,
		Beneficiaries: s.registry.Snapshot(),
		Now:           s.now(),
	})
	if err != nil {
		return err
	}
	res.State = StateValidated

	// Past this point the debits, a refund and the transaction record run to
	// completion even if the caller goes away. Each remote call stays bounded
	// by the balance client's own timeout.
	ctx = context.WithoutCancel(ctx)

	after, err := s.balance.Debit(ctx, res.Amount)
	if err != nil {
		s.forget()
		res.BalanceKnown = false
		return fmt.Errorf("%w: top-up amount: %w", core.ErrDebitFailed, err)
	}
	s.remember(after)
	res.Balance = after
	res.State = StateDebited

	after, err = s.balance.Debit(ctx, s.charge)
	if err != nil {
		return s.chargeFailed(ctx, res, err)
	}
	s.remember(after)
	res.Balance = after
	res.State = StateChargeApplied

	tx := core.Transaction{
		ID:            s.newID(),
		BeneficiaryID: ben.ID,
		Amount:        res.Amount,
		Timestamp:     s.now(),
	}
	if err := s.registry.Record(res.Nickname, tx); err != nil {
		res.Inconsistent = true
		return fmt.Errorf("record transaction: %w", err)
	}
	res.Transaction = &tx
	res.State = StateRecorded
	return nil
}

// chargeFailed handles a failed charge debit after the amount went through.
// With compensation the amount is credited back; otherwise, or when the
// credit also fails, the result is flagged inconsistent.
func (s *TopUpService) chargeFailed(ctx context.Context, res *Result, chargeErr error) error {
	s.forget()
	res.BalanceKnown = false

	if !s.compensate {
		res.Inconsistent = true
		return fmt.Errorf("%w: transaction charge: %w", core.ErrDebitFailed, chargeErr)
	}

	after, err := s.balance.Credit(ctx, res.Amount)
	if err != nil {
		res.Inconsistent = true
		return fmt.Errorf("%w: transaction charge: %w; refund of %s: %w",
			core.ErrDebitFailed, chargeErr, res.Amount, err)
	}
	s.remember(after)
	res.Balance, res.BalanceKnown = after, true
	res.Compensated = true
	return fmt.Errorf("%w: transaction charge: %w (amount refunded)", core.ErrDebitFailed, chargeErr)
}

func (s *TopUpService) report(ctx context.Context, res Result, err error) {
	reason := core.Reason(err)
	fields := tlog.NewFields().
		WithOperation(tlog.OpTopUp).
		WithTopUp(res.Nickname, res.Amount, res.Charge).
		WithReason(reason)
	if res.BalanceKnown {
		fields.WithBalance(res.Balance)
	}
	if res.Transaction != nil {
		fields[tlog.FieldTransactionID] = res.Transaction.ID
	}

	logger := tlog.FromContextOr(ctx, s.logger)
	typ := amqp.EventCompleted
	switch {
	case res.Inconsistent:
		typ = amqp.EventInconsistency
		logger.ErrorContext(ctx, "Top-up left the balance debited without a transaction",
			fields.WithError(err).ToSlice()...)
	case err != nil:
		typ = amqp.EventRejected
		logger.Outcome(ctx, "Top-up rejected", err, fields.ToSlice()...)
	default:
		logger.InfoContext(ctx, "Top-up completed", fields.ToSlice()...)
	}

	if s.publisher == nil {
		return
	}
	evt := amqp.NewTopUpEvent(typ, res.Nickname, res.Amount, res.Charge, s.now())
	evt.BeneficiaryID = res.BeneficiaryID
	evt.Reason = reason
	if res.BalanceKnown {
		b := res.Balance
		evt.Balance = &b
	}
	if res.Transaction != nil {
		evt.TransactionID = res.Transaction.ID
	}
	if perr := s.publisher.PublishTopUpEvent(ctx, evt); perr != nil {
		logger.WarnContext(ctx, "Failed to publish top-up event",
			tlog.FieldOperation, tlog.OpPublish, "event_id", evt.ID, tlog.FieldError, perr.Error())
	}
}

// Balance fetches the current balance and refreshes the cache.
func (s *TopUpService) Balance(ctx context.Context) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.balance.Fetch(ctx)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %w", core.ErrBalanceUnavailable, err)
	}
	s.remember(current)
	return current, nil
}

// CachedBalance returns the last balance reported by the service and when
// it was observed. ok is false before the first fetch and after a debit
// whose outcome is unknown.
func (s *TopUpService) CachedBalance() (value decimal.Decimal, at time.Time, ok bool) {
	s.cacheMu.RLock()
	defer s.cacheMu.RUnlock()
	return s.cached, s.cachedAt, s.cacheOK
}

// Credit adds amount to the balance directly, outside any top-up.
func (s *TopUpService) Credit(ctx context.Context, amount decimal.Decimal) (decimal.Decimal, error) {
	return s.adjust(ctx, balance.OpCredit, amount)
}

// Debit removes amount from the balance directly, outside any top-up.
func (s *TopUpService) Debit(ctx context.Context, amount decimal.Decimal) (decimal.Decimal, error) {
	return s.adjust(ctx, balance.OpDebit, amount)
}

func (s *TopUpService) adjust(ctx context.Context, op string, amount decimal.Decimal) (decimal.Decimal, error) {
	if !amount.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: %s must be positive", core.ErrInvalidAmount, amount)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	call := s.balance.Credit
	if op == balance.OpDebit {
		call = s.balance.Debit
	}
	after, err := call(ctx, amount)
	logger := tlog.FromContextOr(ctx, s.logger)
	if err != nil {
		s.forget()
		logger.WarnContext(ctx, "Balance adjustment failed",
			tlog.FieldOperation, op, tlog.FieldAmount, amount.String(), tlog.FieldError, err.Error())
		if op == balance.OpDebit {
			return decimal.Zero, fmt.Errorf("%w: %w", core.ErrDebitFailed, err)
		}
		return decimal.Zero, err
	}
	s.remember(after)
	logger.InfoContext(ctx, "Balance adjusted",
		tlog.FieldOperation, op, tlog.FieldAmount, amount.String(), tlog.FieldBalance, after.String())
	return after, nil
}

// Register adds a beneficiary to the registry.
func (s *TopUpService) Register(ctx context.Context, b core.Beneficiary) error {
	err := s.registry.Register(b)
	logger := tlog.FromContextOr(ctx, s.logger)
	if err != nil {
		logger.WarnContext(ctx, "Beneficiary registration rejected",
			tlog.FieldOperation, tlog.OpRegister, tlog.FieldNickname, b.Nickname, tlog.FieldReason, core.Reason(err))
		return err
	}
	logger.InfoContext(ctx, "Beneficiary registered",
		tlog.FieldOperation, tlog.OpRegister, tlog.FieldNickname, b.Nickname, tlog.FieldBeneficiaryID, b.ID, tlog.FieldVerified, b.Verified)
	return nil
}

// Beneficiaries returns a snapshot of the registry in registration order.
func (s *TopUpService) Beneficiaries() []core.Beneficiary {
	return slices.Collect(s.registry.List())
}

func (s *TopUpService) Denominations() []decimal.Decimal {
	return core.Denominations()
}

func (s *TopUpService) Charge() decimal.Decimal {
	return s.charge
}

// Usage reports the month-to-date spend from the named beneficiary's tier.
func (s *TopUpService) Usage(nickname string) (policy.Usage, error) {
	ben, ok := s.registry.Find(nickname)
	if !ok {
		return policy.Usage{}, fmt.Errorf("%w: %q", core.ErrBeneficiaryNotFound, nickname)
	}
	return s.limits.Usage(s.registry.Snapshot(), ben.Verified, s.now()), nil
}

// Ping reports whether the balance service is answering. Rejections count
// as answers.
func (s *TopUpService) Ping(ctx context.Context) error {
	if _, err := s.balance.Fetch(ctx); err != nil && !errors.Is(err, core.ErrRemoteRejected) {
		return err
	}
	return nil
}

func (s *TopUpService) remember(v decimal.Decimal) {
	s.cacheMu.Lock()
	s.cached, s.cachedAt, s.cacheOK = v, s.now(), true
	s.cacheMu.Unlock()
}

func (s *TopUpService) forget() {
	s.cacheMu.Lock()
	s.cacheOK = false
	s.cacheMu.Unlock()
}
