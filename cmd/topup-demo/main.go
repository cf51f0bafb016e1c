// Command topup-demo drives the engine through a scripted session: register
// beneficiaries, exercise the registry limits, run random top-ups until the
// monthly caps bite, then adjust the balance directly.
package main

import (
	"context"
	"fmt"
	"math/rand/v2"
	"os"

	"github.com/shopspring/decimal"

	"topup/internal/cli"
	"topup/internal/core"
	tlog "topup/internal/log"
	"topup/internal/services"
)

func main() {
	cfg := cli.MustLoadConfig()
	logger := cli.SetupLogger(cfg.LogLevel).WithComponent(tlog.ComponentDemo)

	ctx, stop := cli.SignalContext(logger)
	defer stop()

	rt, err := cli.InitTopUpService(ctx, cfg, logger)
	if err != nil {
		logger.Error("Failed to initialize top-up service", tlog.FieldError, err.Error())
		os.Exit(1)
	}
	defer func() {
		if err := rt.Close(); err != nil {
			logger.Warn("Cleanup failed", tlog.FieldError, err.Error())
		}
	}()

	d := &demo{svc: rt.Service, logger: logger, attempts: cfg.DemoAttempts}
	d.run(ctx)
}

type demo struct {
	svc      *services.TopUpService
	logger   *tlog.Logger
	attempts int
}

func (d *demo) step(name string) {
	d.logger.Info("---- " + name + " ----")
}

func (d *demo) run(ctx context.Context) {
	d.step("register beneficiaries")
	for i := 1; i <= 5; i++ {
		d.register(ctx, core.Beneficiary{ID: int64(i), Nickname: fmt.Sprintf("User%d", i), Verified: i != 4})
	}

	d.step("denominations")
	for _, den := range d.svc.Denominations() {
		d.logger.Info("Available top-up option", tlog.FieldAmount, "AED "+den.String())
	}

	d.step("registry limits")
	d.register(ctx, core.Beneficiary{ID: 6, Nickname: "ExtraUser"})
	d.register(ctx, core.Beneficiary{ID: 7, Nickname: "LongNicknameOver20Characters"})

	d.step("beneficiaries")
	for _, b := range d.svc.Beneficiaries() {
		d.logger.Info("Beneficiary",
			tlog.FieldBeneficiaryID, b.ID,
			tlog.FieldNickname, b.Nickname,
			tlog.FieldVerified, b.Verified)
	}

	for _, nickname := range []string{"User1", "User4"} {
		if ctx.Err() != nil {
			return
		}
		d.step("random top-ups for " + nickname)
		d.randomTopUps(ctx, nickname)
	}

	d.step("balance adjustments")
	d.showBalance(ctx)
	d.adjust(ctx, tlog.OpCredit, d.svc.Credit, decimal.NewFromInt(100))
	d.showBalance(ctx)
	d.adjust(ctx, tlog.OpDebit, d.svc.Debit, decimal.NewFromInt(50))
	d.showBalance(ctx)
	d.step("done")
}

func (d *demo) register(ctx context.Context, b core.Beneficiary) {
	err := d.svc.Register(ctx, b)
	d.logger.Outcome(ctx, "Register beneficiary", err,
		tlog.FieldNickname, b.Nickname,
		tlog.FieldVerified, b.Verified,
		tlog.FieldReason, core.Reason(err))
}

func (d *demo) randomTopUps(ctx context.Context, nickname string) {
	dens := d.svc.Denominations()
	var succeeded, failed int
	for i := 1; i <= d.attempts && ctx.Err() == nil; i++ {
		amount := dens[rand.IntN(len(dens))]
		res, err := d.svc.TopUp(ctx, nickname, amount)
		args := []any{"attempt", i, tlog.FieldNickname, nickname, tlog.FieldAmount, amount.String(), tlog.FieldState, res.State}
		if res.BalanceKnown {
			args = append(args, tlog.FieldBalance, res.Balance.String())
		}
		if err != nil {
			failed++
			args = append(args, tlog.FieldReason, core.Reason(err))
		} else {
			succeeded++
		}
		d.logger.Outcome(ctx, "Top-up attempt", err, args...)
	}

	fields := []any{tlog.FieldNickname, nickname, "succeeded", succeeded, "failed", failed}
	if u, err := d.svc.Usage(nickname); err == nil {
		fields = append(fields, "tier_total", u.Tier.String(), "tier_cap", u.TierCap.String(), "aggregate_total", u.Aggregate.String())
	}
	d.logger.Info("Top-up summary", fields...)
}

func (d *demo) showBalance(ctx context.Context) {
	v, err := d.svc.Balance(ctx)
	if err != nil {
		d.logger.Warn("Failed to fetch balance", tlog.FieldError, err.Error(), tlog.FieldReason, core.Reason(err))
		return
	}
	d.logger.Info("Current balance", tlog.FieldBalance, v.String())
}

func (d *demo) adjust(ctx context.Context, op string, fn func(context.Context, decimal.Decimal) (decimal.Decimal, error), amount decimal.Decimal) {
	v, err := fn(ctx, amount)
	args := []any{tlog.FieldOperation, op, tlog.FieldAmount, amount.String()}
	if err == nil {
		args = append(args, tlog.FieldBalance, v.String())
	}
	d.logger.Outcome(ctx, "Balance adjustment", err, args...)
}
