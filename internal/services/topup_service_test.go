package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"topup/internal/amqp"
	"topup/internal/balance"
	"topup/internal/balance/memory"
	"topup/internal/core"
	tlog "topup/internal/log"
	"topup/internal/registry"
)

// fakeBalance keeps a balance and records every call in order. failOn maps a
// call label ("fetch", "debit 1", ...) to the error it should return.
type fakeBalance struct {
	mu      sync.Mutex
	balance decimal.Decimal
	calls   []string
	failOn  map[string]error
}

func newFakeBalance(v int64) *fakeBalance {
	return &fakeBalance{balance: decimal.NewFromInt(v), failOn: map[string]error{}}
}

func (f *fakeBalance) record(label string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, label)
	return f.failOn[label]
}

func (f *fakeBalance) Fetch(ctx context.Context) (decimal.Decimal, error) {
	if err := f.record("fetch"); err != nil {
		return decimal.Zero, err
	}
	return f.balance, nil
}

func (f *fakeBalance) Credit(ctx context.Context, amount decimal.Decimal) (decimal.Decimal, error) {
	if err := f.record("credit " + amount.String()); err != nil {
		return decimal.Zero, err
	}
	f.balance = f.balance.Add(amount)
	return f.balance, nil
}

func (f *fakeBalance) Debit(ctx context.Context, amount decimal.Decimal) (decimal.Decimal, error) {
	if err := f.record("debit " + amount.String()); err != nil {
		return decimal.Zero, err
	}
	if amount.GreaterThan(f.balance) {
		return decimal.Zero, &balance.RemoteError{Op: balance.OpDebit, StatusCode: 422, Err: core.ErrRemoteRejected}
	}
	f.balance = f.balance.Sub(amount)
	return f.balance, nil
}

func (f *fakeBalance) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.calls)
}

type fakePublisher struct {
	events []*amqp.TopUpEvent
	err    error
}

func (p *fakePublisher) PublishTopUpEvent(ctx context.Context, evt *amqp.TopUpEvent) error {
	p.events = append(p.events, evt)
	return p.err
}

var (
	fixedNow    = time.Date(2026, 10, 14, 10, 0, 0, 0, time.UTC)
	unavailable = &balance.RemoteError{Op: balance.OpDebit, Detail: "timeout", Err: core.ErrRemoteUnavailable}
)

func amount(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func newTestService(t *testing.T, bal balance.Service, mutate func(*Options)) (*TopUpService, *fakePublisher) {
	t.Helper()
	pub := &fakePublisher{}
	opts := DefaultOptions()
	opts.Now = func() time.Time { return fixedNow }
	opts.Publisher = pub
	opts.Logger = tlog.Discard()
	n := 0
	opts.NewID = func() string { n++; return fmt.Sprintf("tx-%d", n) }
	if mutate != nil {
		mutate(&opts)
	}

	svc := NewTopUpService(bal, registry.New(registry.MaxBeneficiaries), opts)
	for i, verified := range []bool{true, true, true, false, true} {
		b := core.Beneficiary{ID: int64(i + 1), Nickname: fmt.Sprintf("User%d", i+1), Verified: verified}
		if err := svc.Register(context.Background(), b); err != nil {
			t.Fatalf("register %s: %v", b.Nickname, err)
		}
	}
	return svc, pub
}

func TestTopUpSuccess(t *testing.T) {
	bal := newFakeBalance(1000)
	svc, pub := newTestService(t, bal, nil)

	res, err := svc.TopUp(context.Background(), "User1", amount(100))
	if err != nil {
		t.Fatalf("top-up: %v", err)
	}
	if res.State != StateRecorded || !res.Balance.Equal(amount(899)) {
		t.Fatalf("unexpected result: %+v", res)
	}
	if got, want := bal.Calls(), []string{"fetch", "debit 100", "debit 1"}; !slices.Equal(got, want) {
		t.Fatalf("calls = %v, want %v", got, want)
	}

	b := svc.Beneficiaries()[0]
	if len(b.Transactions) != 1 || !b.TotalToppedUp.Equal(amount(100)) {
		t.Fatalf("transaction not recorded: %+v", b)
	}
	tx := b.Transactions[0]
	if tx.ID != "tx-1" || tx.BeneficiaryID != 1 || !tx.Amount.Equal(amount(100)) || !tx.Timestamp.Equal(fixedNow) {
		t.Fatalf("unexpected transaction: %+v", tx)
	}

	cached, at, ok := svc.CachedBalance()
	if !ok || !cached.Equal(amount(899)) || !at.Equal(fixedNow) {
		t.Fatalf("cache = %s %v %v, want 899", cached, at, ok)
	}

	if len(pub.events) != 1 || pub.events[0].Type != amqp.EventCompleted || pub.events[0].TransactionID != "tx-1" {
		t.Fatalf("unexpected events: %+v", pub.events)
	}
}

func TestTopUpVerifiedTierCap(t *testing.T) {
	bal := newFakeBalance(5000)
	svc, _ := newTestService(t, bal, nil)
	ctx := context.Background()

	for _, a := range []int64{100, 100, 100, 100, 50} {
		if _, err := svc.TopUp(ctx, "User1", amount(a)); err != nil {
			t.Fatalf("top-up %d: %v", a, err)
		}
	}
	before := len(bal.Calls())

	res, err := svc.TopUp(ctx, "User1", amount(75))
	if !errors.Is(err, core.ErrTierCapExceeded) {
		t.Fatalf("expected ErrTierCapExceeded, got %v", err)
	}
	if res.State != StateRejected {
		t.Fatalf("expected rejected state, got %s", res.State)
	}
	if got := bal.Calls()[before:]; !slices.Equal(got, []string{"fetch"}) {
		t.Fatalf("a rejected top-up must not debit, calls %v", got)
	}

	// Another verified beneficiary shares the tier cap.
	if _, err := svc.TopUp(ctx, "User2", amount(75)); !errors.Is(err, core.ErrTierCapExceeded) {
		t.Fatalf("expected shared tier cap, got %v", err)
	}
	// The unverified tier is counted separately.
	if _, err := svc.TopUp(ctx, "User4", amount(100)); err != nil {
		t.Fatalf("unverified top-up: %v", err)
	}
}

func TestTopUpRejectedBeforeRemoteCalls(t *testing.T) {
	tests := []struct {
		name     string
		nickname string
		amount   int64
		want     error
	}{
		{"unknown nickname", "Nobody", 10, core.ErrBeneficiaryNotFound},
		{"not a denomination", "User1", 15, core.ErrInvalidAmount},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bal := newFakeBalance(1000)
			svc, pub := newTestService(t, bal, nil)

			_, err := svc.TopUp(context.Background(), tt.nickname, amount(tt.amount))
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
			if calls := bal.Calls(); len(calls) != 0 {
				t.Fatalf("expected no remote calls, got %v", calls)
			}
			if len(pub.events) != 1 || pub.events[0].Type != amqp.EventRejected || pub.events[0].Reason != core.Reason(tt.want) {
				t.Fatalf("unexpected events: %+v", pub.events)
			}
		})
	}
}

func TestTopUpBalanceUnavailable(t *testing.T) {
	bal := newFakeBalance(1000)
	bal.failOn["fetch"] = &balance.RemoteError{Op: balance.OpFetch, Err: core.ErrRemoteUnavailable}
	svc, _ := newTestService(t, bal, nil)

	res, err := svc.TopUp(context.Background(), "User1", amount(10))
	if !errors.Is(err, core.ErrBalanceUnavailable) || !errors.Is(err, core.ErrRemoteUnavailable) {
		t.Fatalf("expected ErrBalanceUnavailable wrapping the remote cause, got %v", err)
	}
	if res.BalanceKnown {
		t.Fatal("balance must not be reported after a failed fetch")
	}
	if got := bal.Calls(); !slices.Equal(got, []string{"fetch"}) {
		t.Fatalf("expected no debits, got %v", got)
	}
	if b := svc.Beneficiaries()[0]; len(b.Transactions) != 0 {
		t.Fatalf("expected no transaction, got %+v", b.Transactions)
	}
	if _, _, ok := svc.CachedBalance(); ok {
		t.Fatal("cache must stay empty")
	}
}

func TestTopUpInsufficientFundsIncludesCharge(t *testing.T) {
	bal := newFakeBalance(100)
	svc, _ := newTestService(t, bal, nil)

	_, err := svc.TopUp(context.Background(), "User1", amount(100))
	if !errors.Is(err, core.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	if got := bal.Calls(); !slices.Equal(got, []string{"fetch"}) {
		t.Fatalf("expected no debits, got %v", got)
	}

	// amount + charge equal to the balance is allowed
	bal.balance = amount(101)
	if _, err := svc.TopUp(context.Background(), "User1", amount(100)); err != nil {
		t.Fatalf("top-up within balance: %v", err)
	}
}

func TestTopUpAmountDebitFails(t *testing.T) {
	bal := newFakeBalance(1000)
	bal.failOn["debit 100"] = unavailable
	svc, pub := newTestService(t, bal, nil)

	res, err := svc.TopUp(context.Background(), "User1", amount(100))
	if !errors.Is(err, core.ErrDebitFailed) {
		t.Fatalf("expected ErrDebitFailed, got %v", err)
	}
	if core.Reason(err) != "debit_failed" {
		t.Fatalf("unexpected reason %q", core.Reason(err))
	}
	if got := bal.Calls(); !slices.Equal(got, []string{"fetch", "debit 100"}) {
		t.Fatalf("no further debit expected, got %v", got)
	}
	if res.Inconsistent || res.Transaction != nil {
		t.Fatalf("unexpected result: %+v", res)
	}
	if b := svc.Beneficiaries()[0]; len(b.Transactions) != 0 {
		t.Fatal("no transaction may be recorded")
	}
	if _, _, ok := svc.CachedBalance(); ok {
		t.Fatal("cache must be invalidated when a debit outcome is unknown")
	}
	if pub.events[0].Type != amqp.EventRejected {
		t.Fatalf("expected rejected event, got %s", pub.events[0].Type)
	}
}

func TestTopUpChargeDebitFails(t *testing.T) {
	tests := []struct {
		name         string
		compensate   bool
		creditErr    error
		wantCalls    []string
		compensated  bool
		inconsistent bool
		wantEvent    amqp.EventType
	}{
		{
			name:        "refunded",
			compensate:  true,
			wantCalls:   []string{"fetch", "debit 100", "debit 1", "credit 100"},
			compensated: true,
			wantEvent:   amqp.EventRejected,
		},
		{
			name:         "refund fails",
			compensate:   true,
			creditErr:    unavailable,
			wantCalls:    []string{"fetch", "debit 100", "debit 1", "credit 100"},
			inconsistent: true,
			wantEvent:    amqp.EventInconsistency,
		},
		{
			name:         "compensation disabled",
			wantCalls:    []string{"fetch", "debit 100", "debit 1"},
			inconsistent: true,
			wantEvent:    amqp.EventInconsistency,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bal := newFakeBalance(1000)
			bal.failOn["debit 1"] = unavailable
			if tt.creditErr != nil {
				bal.failOn["credit 100"] = tt.creditErr
			}
			svc, pub := newTestService(t, bal, func(o *Options) { o.CompensateFailedCharge = tt.compensate })

			res, err := svc.TopUp(context.Background(), "User1", amount(100))
			if !errors.Is(err, core.ErrDebitFailed) {
				t.Fatalf("expected ErrDebitFailed, got %v", err)
			}
			if got := bal.Calls(); !slices.Equal(got, tt.wantCalls) {
				t.Fatalf("calls = %v, want %v", got, tt.wantCalls)
			}
			if res.Compensated != tt.compensated || res.Inconsistent != tt.inconsistent {
				t.Fatalf("unexpected result flags: %+v", res)
			}
			if b := svc.Beneficiaries()[0]; len(b.Transactions) != 0 {
				t.Fatal("no transaction may be recorded")
			}
			if pub.events[0].Type != tt.wantEvent {
				t.Fatalf("event = %s, want %s", pub.events[0].Type, tt.wantEvent)
			}
			if tt.compensated {
				got, _, ok := svc.CachedBalance()
				if !ok || !got.Equal(amount(1000)) {
					t.Fatalf("cache after refund = %s %v, want 1000", got, ok)
				}
			}
		})
	}
}

func TestPublishFailureDoesNotChangeOutcome(t *testing.T) {
	bal := newFakeBalance(1000)
	svc, pub := newTestService(t, bal, nil)
	pub.err = errors.New("broker down")

	if _, err := svc.TopUp(context.Background(), "User1", amount(10)); err != nil {
		t.Fatalf("top-up must succeed when publishing fails: %v", err)
	}
}

func TestBalanceAndAdjustments(t *testing.T) {
	bal := newFakeBalance(1000)
	svc, _ := newTestService(t, bal, nil)
	ctx := context.Background()

	if _, _, ok := svc.CachedBalance(); ok {
		t.Fatal("cache must start empty")
	}
	got, err := svc.Balance(ctx)
	if err != nil || !got.Equal(amount(1000)) {
		t.Fatalf("balance = %s, %v", got, err)
	}
	if got, err = svc.Credit(ctx, amount(100)); err != nil || !got.Equal(amount(1100)) {
		t.Fatalf("credit = %s, %v", got, err)
	}
	if got, err = svc.Debit(ctx, amount(50)); err != nil || !got.Equal(amount(1050)) {
		t.Fatalf("debit = %s, %v", got, err)
	}
	if cached, _, ok := svc.CachedBalance(); !ok || !cached.Equal(amount(1050)) {
		t.Fatalf("cache = %s", cached)
	}

	if _, err := svc.Credit(ctx, decimal.Zero); !errors.Is(err, core.ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
	if _, err := svc.Debit(ctx, amount(5000)); !errors.Is(err, core.ErrDebitFailed) || !errors.Is(err, core.ErrRemoteRejected) {
		t.Fatalf("expected ErrDebitFailed wrapping the rejection, got %v", err)
	}

	bal.failOn["fetch"] = &balance.RemoteError{Op: balance.OpFetch, Err: core.ErrRemoteUnavailable}
	if _, err := svc.Balance(ctx); !errors.Is(err, core.ErrBalanceUnavailable) {
		t.Fatalf("expected ErrBalanceUnavailable, got %v", err)
	}
}

func TestRegisterAndUsage(t *testing.T) {
	bal := newFakeBalance(1000)
	svc, _ := newTestService(t, bal, nil)
	ctx := context.Background()

	if err := svc.Register(ctx, core.Beneficiary{ID: 6, Nickname: "ExtraUser"}); !errors.Is(err, core.ErrRegistryFull) {
		t.Fatalf("expected ErrRegistryFull, got %v", err)
	}

	if _, err := svc.TopUp(ctx, "User4", amount(100)); err != nil {
		t.Fatalf("top-up: %v", err)
	}
	u, err := svc.Usage("User4")
	if err != nil {
		t.Fatalf("usage: %v", err)
	}
	if !u.Tier.Equal(amount(100)) || !u.TierRemaining.Equal(amount(900)) || !u.AggregateRemaining.Equal(amount(2900)) {
		t.Fatalf("unexpected usage: %+v", u)
	}
	if _, err := svc.Usage("Nobody"); !errors.Is(err, core.ErrBeneficiaryNotFound) {
		t.Fatalf("expected ErrBeneficiaryNotFound, got %v", err)
	}
	if len(svc.Denominations()) != 7 {
		t.Fatalf("unexpected denominations %v", svc.Denominations())
	}
}

func TestPing(t *testing.T) {
	bal := newFakeBalance(1000)
	svc, _ := newTestService(t, bal, nil)

	if err := svc.Ping(context.Background()); err != nil {
		t.Fatalf("ping: %v", err)
	}
	bal.failOn["fetch"] = &balance.RemoteError{Op: balance.OpFetch, StatusCode: 500, Err: core.ErrRemoteRejected}
	if err := svc.Ping(context.Background()); err != nil {
		t.Fatalf("a rejection still proves the service is up: %v", err)
	}
	bal.failOn["fetch"] = &balance.RemoteError{Op: balance.OpFetch, Err: core.ErrRemoteUnavailable}
	if err := svc.Ping(context.Background()); !errors.Is(err, core.ErrRemoteUnavailable) {
		t.Fatalf("expected ErrRemoteUnavailable, got %v", err)
	}
}

// cancellingBalance behaves like a remote client: any call made with a done
// context fails as unavailable. It cancels the caller once the top-up amount
// has been debited.
type cancellingBalance struct {
	*fakeBalance
	cancel context.CancelFunc
	amount decimal.Decimal
}

func (c *cancellingBalance) Fetch(ctx context.Context) (decimal.Decimal, error) {
	if err := ctx.Err(); err != nil {
		return decimal.Zero, &balance.RemoteError{Op: balance.OpFetch, Detail: err.Error(), Err: core.ErrRemoteUnavailable}
	}
	return c.fakeBalance.Fetch(ctx)
}

func (c *cancellingBalance) Credit(ctx context.Context, a decimal.Decimal) (decimal.Decimal, error) {
	if err := ctx.Err(); err != nil {
		return decimal.Zero, &balance.RemoteError{Op: balance.OpCredit, Detail: err.Error(), Err: core.ErrRemoteUnavailable}
	}
	return c.fakeBalance.Credit(ctx, a)
}

func (c *cancellingBalance) Debit(ctx context.Context, a decimal.Decimal) (decimal.Decimal, error) {
	if err := ctx.Err(); err != nil {
		return decimal.Zero, &balance.RemoteError{Op: balance.OpDebit, Detail: err.Error(), Err: core.ErrRemoteUnavailable}
	}
	v, err := c.fakeBalance.Debit(ctx, a)
	if a.Equal(c.amount) {
		c.cancel()
	}
	return v, err
}

// ctxPublisher records whether events arrived with a live context.
type ctxPublisher struct {
	events []*amqp.TopUpEvent
	errs   []error
}

func (p *ctxPublisher) PublishTopUpEvent(ctx context.Context, evt *amqp.TopUpEvent) error {
	p.events = append(p.events, evt)
	p.errs = append(p.errs, ctx.Err())
	return ctx.Err()
}

func TestTopUpSurvivesCallerCancellation(t *testing.T) {
	tests := []struct {
		name         string
		failCharge   bool
		wantErr      error
		wantBalance  int64
		wantCalls    []string
		wantRecorded bool
		wantEvent    amqp.EventType
	}{
		{
			name:         "charge and record complete",
			wantBalance:  899,
			wantCalls:    []string{"fetch", "debit 100", "debit 1"},
			wantRecorded: true,
			wantEvent:    amqp.EventCompleted,
		},
		{
			name:        "refund reaches the service",
			failCharge:  true,
			wantErr:     core.ErrDebitFailed,
			wantBalance: 1000,
			wantCalls:   []string{"fetch", "debit 100", "debit 1", "credit 100"},
			wantEvent:   amqp.EventRejected,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			fake := newFakeBalance(1000)
			if tt.failCharge {
				fake.failOn["debit 1"] = unavailable
			}
			bal := &cancellingBalance{fakeBalance: fake, cancel: cancel, amount: amount(100)}
			pub := &ctxPublisher{}
			svc, _ := newTestService(t, bal, func(o *Options) { o.Publisher = pub })

			res, err := svc.TopUp(ctx, "User1", amount(100))
			if ctx.Err() == nil {
				t.Fatal("caller context should have been cancelled mid top-up")
			}
			if tt.wantErr == nil && err != nil {
				t.Fatalf("top-up: %v", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			if !slices.Equal(fake.Calls(), tt.wantCalls) {
				t.Fatalf("calls = %v, want %v", fake.Calls(), tt.wantCalls)
			}
			if !fake.balance.Equal(amount(tt.wantBalance)) {
				t.Fatalf("remote balance = %s, want %d", fake.balance, tt.wantBalance)
			}
			if res.Inconsistent || (res.Transaction != nil) != tt.wantRecorded {
				t.Fatalf("result = %+v", res)
			}
			if tt.failCharge && !res.Compensated {
				t.Fatal("expected the amount to be refunded")
			}
			if len(pub.events) != 1 || pub.events[0].Type != tt.wantEvent || pub.errs[0] != nil {
				t.Fatalf("events = %v errs = %v", pub.events, pub.errs)
			}
		})
	}
}

func TestTopUpCancelledBeforeChecksDebitsNothing(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	fake := newFakeBalance(1000)
	bal := &cancellingBalance{fakeBalance: fake, cancel: func() {}, amount: amount(100)}
	svc, _ := newTestService(t, bal, nil)

	if _, err := svc.TopUp(ctx, "User1", amount(100)); !errors.Is(err, core.ErrBalanceUnavailable) {
		t.Fatalf("err = %v, want ErrBalanceUnavailable", err)
	}
	if len(fake.Calls()) != 0 || !fake.balance.Equal(amount(1000)) {
		t.Fatalf("calls = %v balance = %s", fake.Calls(), fake.balance)
	}
}

func TestConcurrentTopUpsAreSerialised(t *testing.T) {
	const (
		workers  = 50
		attempts = 20
		initial  = 100000
	)
	store := memory.New(amount(initial))
	svc, _ := newTestService(t, store, func(o *Options) { o.Publisher = nil })
	dens := core.Denominations()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		success int
	)
	spent := decimal.Zero
	for w := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range attempts {
				a := dens[(w+i)%len(dens)]
				_, err := svc.TopUp(context.Background(), "User1", a)
				if err != nil {
					if !errors.Is(err, core.ErrTierCapExceeded) {
						t.Errorf("unexpected rejection: %v", err)
					}
					continue
				}
				mu.Lock()
				spent = spent.Add(a).Add(core.TransactionCharge)
				success++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	var user1 core.Beneficiary
	for _, b := range svc.Beneficiaries() {
		if b.Nickname == "User1" {
			user1 = b
		}
	}
	if user1.TotalToppedUp.GreaterThan(amount(500)) {
		t.Fatalf("tier cap breached: total = %s", user1.TotalToppedUp)
	}
	if len(user1.Transactions) != success {
		t.Fatalf("transactions = %d, successful top-ups = %d", len(user1.Transactions), success)
	}
	sum := decimal.Zero
	for _, tx := range user1.Transactions {
		sum = sum.Add(tx.Amount)
	}
	if !sum.Equal(user1.TotalToppedUp) {
		t.Fatalf("running total %s != sum of transactions %s", user1.TotalToppedUp, sum)
	}
	remote, _ := store.Fetch(context.Background())
	if want := amount(initial).Sub(spent); !remote.Equal(want) {
		t.Fatalf("remote balance = %s, want %s", remote, want)
	}
}
