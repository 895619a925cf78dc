package app

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/shopspring/decimal"

	"spread-sentinel/internal/fetcher"
	"spread-sentinel/internal/storage"
)

// SimulateOpportunity 用给定的 WEEX/对比价格跑一次检测流程。
func (a *App) SimulateOpportunity(ctx context.Context, opts SimulateOptions) error {
	if opts.Symbol == "" {
		return errors.New("symbol 不能为空")
	}
	if !opts.WeexPrice.IsPositive() || !opts.OtherPrice.IsPositive() {
		return errors.New("价格必须大于 0")
	}

	res, err := a.open(ctx)
	if err != nil {
		return err
	}
	defer res.Close()

	source := &fetcher.Static{Prices: map[string]decimal.Decimal{opts.Symbol: opts.OtherPrice}}
	p, err := a.newPipeline(res, source)
	if err != nil {
		return err
	}
	defer p.publisher.Close()

	created, err := p.detector.Observe(ctx, opts.Symbol, opts.WeexPrice)
	if err != nil {
		return err
	}
	if created == nil {
		fmt.Fprintln(os.Stdout, "no alert created (spread below threshold or an open alert exists)")
		return nil
	}

	alert := *created
	if opts.Validate {
		settled, _, err := p.validator.Validate(ctx, alert)
		if err != nil {
			a.Logger.Warn().Err(err).Str("alert_id", alert.ID).Msg("validation did not approve")
		}
		// 立即执行路径可能已经改变状态
		if latest, getErr := res.store.GetAlert(ctx, settled.ID); getErr == nil {
			settled = latest
		}
		alert = settled
	}

	return writeAlerts(os.Stdout, []storage.Alert{alert})
}
