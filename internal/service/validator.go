package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"spread-sentinel/internal/alerting"
	"spread-sentinel/internal/events"
	"spread-sentinel/internal/judge"
	"spread-sentinel/internal/storage"
)

// ValidatorOptions configure the validation worker.
type ValidatorOptions struct {
	BatchSize int
}

// ValidatorStore is the persistence the validation worker needs.
type ValidatorStore interface {
	storage.AlertStore
	storage.AuditStore
}

// ImmediateExecutor is the executor's post-approval path.
type ImmediateExecutor interface {
	ExecuteApproved(ctx context.Context, alert storage.Alert) (storage.Alert, error)
}

// Validator asks the judge about PENDING alerts and settles them.
type Validator struct {
	opts     ValidatorOptions
	judge    judge.Generator
	store    ValidatorStore
	executor ImmediateExecutor
	out      broadcaster
	logger   zerolog.Logger
	now      func() time.Time
}

// ValidationSummary reports one validation pass.
type ValidationSummary struct {
	Claimed  int
	Approved int
	Rejected int
}

// NewValidator wires the worker. A nil generator rejects every alert with
// judge.ErrNotConfigured; a nil executor disables immediate execution.
func NewValidator(opts ValidatorOptions, gen judge.Generator, store ValidatorStore, executor ImmediateExecutor, pub events.Publisher, logger zerolog.Logger) *Validator {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 5
	}
	log := logger.With().Str("component", "validator").Logger()
	return &Validator{
		opts:     opts,
		judge:    gen,
		store:    store,
		executor: executor,
		out:      newBroadcaster(pub, alerting.Nop{}, log),
		logger:   log,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Tick runs one validation pass.
func (v *Validator) Tick(ctx context.Context, _ time.Time) error {
	_, err := v.ValidatePending(ctx)
	return err
}

// ValidatePending claims up to BatchSize PENDING alerts and settles each.
func (v *Validator) ValidatePending(ctx context.Context) (ValidationSummary, error) {
	var summary ValidationSummary

	pending, err := v.store.ListAlertsByStatus(ctx, storage.StatusPending, v.opts.BatchSize)
	if err != nil {
		return summary, fmt.Errorf("list pending alerts: %w", err)
	}
	if len(pending) == 0 {
		return summary, nil
	}
	v.logger.Info().Int("count", len(pending)).Msg("validating pending alerts")

	for _, alert := range pending {
		settled, claimed, err := v.Validate(ctx, alert)
		if !claimed {
			continue
		}
		summary.Claimed++
		switch settled.Status {
		case storage.StatusApproved:
			summary.Approved++
		case storage.StatusRejected:
			summary.Rejected++
		}
		if err != nil {
			v.logger.Error().Err(err).Str("alert_id", alert.ID).Msg("validation failed")
		}
	}
	return summary, nil
}

// Validate claims one alert and drives it to APPROVED or REJECTED. claimed is
// false when another worker got there first.
func (v *Validator) Validate(ctx context.Context, alert storage.Alert) (settled storage.Alert, claimed bool, err error) {
	log := v.logger.With().Str("alert_id", alert.ID).Str("symbol", alert.Symbol).Logger()

	analyzing, err := v.store.TransitionAlert(ctx, alert.ID, storage.StatusPending, storage.StatusAnalyzing, storage.AlertPatch{})
	if errors.Is(err, storage.ErrStaleTransition) || errors.Is(err, storage.ErrNotFound) {
		log.Debug().Err(err).Msg("alert already claimed, skipping")
		return alert, false, nil
	}
	if err != nil {
		return alert, false, fmt.Errorf("claim alert %s: %w", alert.ID, err)
	}

	verdict, judgeErr := v.analyze(ctx, analyzing)
	if judgeErr != nil {
		log.Error().Err(judgeErr).Msg("AI analysis failed, rejecting alert")
		verdict = judge.ErrorVerdict(judgeErr)
	}

	next := storage.StatusRejected
	eventType := events.AlertRejected
	if judgeErr == nil && verdict.Approved() {
		next = storage.StatusApproved
		eventType = events.AlertApproved
	}

	analyzedAt := v.now()
	validation := &storage.AIValidation{
		SentimentScore: verdict.SentimentScore,
		Confidence:     verdict.Confidence,
		Reasoning:      verdict.Reasoning,
		Recommendation: storage.Recommendation(verdict.Recommendation),
		Model:          v.model(),
		AnalyzedAt:     analyzedAt,
	}
	settleCtx, cancel := detached(ctx)
	defer cancel()
	settled, err = v.store.TransitionAlert(settleCtx, alert.ID, storage.StatusAnalyzing, next, storage.AlertPatch{
		AIValidation: validation,
		AnalyzedAt:   &analyzedAt,
	})
	if err != nil {
		return analyzing, true, fmt.Errorf("settle alert %s: %w", alert.ID, err)
	}

	log.Info().
		Str("status", string(settled.Status)).
		Float64("sentiment", verdict.SentimentScore).
		Float64("confidence", verdict.Confidence).
		Str("recommendation", verdict.Recommendation).
		Msg("alert validated")

	v.out.publish(settleCtx, eventType, settled, validation)
	if next == storage.StatusRejected {
		recordAudit(settleCtx, v.store, v.logger, storage.AuditAlertRejected, map[string]string{
			"alert_id":  settled.ID,
			"symbol":    settled.Symbol,
			"reasoning": verdict.Reasoning,
		})
		return settled, true, judgeErr
	}

	if v.executor != nil {
		if _, execErr := v.executor.ExecuteApproved(ctx, settled); execErr != nil {
			log.Warn().Err(execErr).Msg("immediate execution failed, scheduled pass will retry")
		}
	}
	return settled, true, nil
}

func (v *Validator) analyze(ctx context.Context, alert storage.Alert) (judge.Verdict, error) {
	if v.judge == nil {
		return judge.Verdict{}, judge.ErrNotConfigured
	}
	op := judge.Opportunity{
		Symbol:          alert.Symbol,
		SpreadPct:       alert.SpreadPct,
		WeexPrice:       alert.WeexPrice,
		OtherPrice:      alert.OtherPrice,
		ProjectedProfit: alert.ProjectedProfit,
		RiskLevel:       string(alert.RiskLevel),
	}
	text, err := v.judge.Generate(ctx, judge.BuildPrompt(op, judge.ContextLines(op)))
	if err != nil {
		return judge.Verdict{}, err
	}
	return judge.ParseVerdict(text), nil
}

func (v *Validator) model() string {
	if v.judge == nil {
		return ""
	}
	return v.judge.Model()
}
