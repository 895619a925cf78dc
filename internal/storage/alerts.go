package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"spread-sentinel/internal/spread"
)

const (
	alertColumns = `
        id::text,
        type,
        symbol,
        asset,
        spread_pct::text,
        weex_price::text,
        other_price::text,
        buy_at,
        sell_at,
        projected_profit::text,
        risk_level,
        auto_execute,
        requested_trade_size::text,
        status,
        ai_validation,
        order_id,
        execution_method,
        execution_price::text,
        execution_size::text,
        execution_error,
        execution_attempts,
        analyzed_at,
        executed_at,
        execution_started_at,
        created_at,
        updated_at`

	insertAlertSQL = `INSERT INTO alerts (
        id,
        type,
        symbol,
        asset,
        spread_pct,
        weex_price,
        other_price,
        buy_at,
        sell_at,
        projected_profit,
        risk_level,
        auto_execute,
        requested_trade_size,
        status,
        created_at,
        updated_at
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$15
    )
    RETURNING` + alertColumns + `;`

	hasOpenAlertSQL = `SELECT EXISTS (
        SELECT 1 FROM alerts WHERE symbol = $1 AND status = ANY($2)
    );`

	getAlertSQL = `SELECT` + alertColumns + `
    FROM alerts
    WHERE id = $1;`

	listAlertsByStatusSQL = `SELECT` + alertColumns + `
    FROM alerts
    WHERE status = $1
    ORDER BY created_at
    LIMIT $2;`

	listExecutableSQL = `SELECT` + alertColumns + `
    FROM alerts
    WHERE status = 'APPROVED'
      AND auto_execute
      AND risk_level = ANY($1)
      AND ($2::int <= 0 OR execution_attempts < $2::int)
    ORDER BY created_at
    LIMIT $3;`

	listRecentAlertsSQL = `SELECT` + alertColumns + `
    FROM alerts
    ORDER BY created_at DESC
    LIMIT $1;`

	// 条件更新: 仅当状态仍为 $2 时生效。
	transitionAlertSQL = `UPDATE alerts
    SET
        status               = $3,
        ai_validation        = COALESCE($4, ai_validation),
        order_id             = COALESCE($5, order_id),
        execution_method     = COALESCE($6, execution_method),
        execution_price      = COALESCE($7::numeric, execution_price),
        execution_size       = COALESCE($8::numeric, execution_size),
        execution_error      = CASE WHEN $9::boolean THEN NULL ELSE COALESCE($10, execution_error) END,
        execution_attempts   = execution_attempts + $11,
        analyzed_at          = COALESCE($12, analyzed_at),
        executed_at          = COALESCE($13, executed_at),
        execution_started_at = COALESCE($14, execution_started_at),
        updated_at           = NOW()
    WHERE id = $1
      AND status = $2
    RETURNING` + alertColumns + `;`

	alertStatusSQL = `SELECT status FROM alerts WHERE id = $1;`

	uniqueViolation = "23505"
)

type rowScanner interface {
	Scan(dest ...any) error
}

// CreateAlert inserts a PENDING alert. A concurrent open alert for the same
// symbol trips alerts_open_symbol_idx and surfaces as ErrOpenAlertExists.
func (s *Store) CreateAlert(ctx context.Context, alert Alert) (Alert, error) {
	pool, err := s.getPool()
	if err != nil {
		return Alert{}, err
	}

	alert = prepareNewAlert(alert, time.Now().UTC())

	var requested interface{}
	if alert.RequestedTradeSize != nil {
		requested = alert.RequestedTradeSize.String()
	}

	row := pool.QueryRow(ctx, insertAlertSQL,
		alert.ID,
		alert.Type,
		alert.Symbol,
		alert.Asset,
		alert.SpreadPct.String(),
		alert.WeexPrice.String(),
		alert.OtherPrice.String(),
		string(alert.BuyAt),
		string(alert.SellAt),
		alert.ProjectedProfit.String(),
		string(alert.RiskLevel),
		alert.AutoExecute,
		requested,
		string(alert.Status),
		alert.CreatedAt,
	)
	created, scanErr := scanAlert(row)
	if scanErr != nil {
		var pgErr *pgconn.PgError
		if errors.As(scanErr, &pgErr) && pgErr.Code == uniqueViolation {
			return Alert{}, ErrOpenAlertExists
		}
		return Alert{}, fmt.Errorf("insert alert: %w", scanErr)
	}
	return created, nil
}

// HasOpenAlert reports whether symbol has an alert in an open status.
func (s *Store) HasOpenAlert(ctx context.Context, symbol string) (bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return false, err
	}
	var exists bool
	if scanErr := pool.QueryRow(ctx, hasOpenAlertSQL, symbol, openStatusStrings()).Scan(&exists); scanErr != nil {
		return false, fmt.Errorf("has open alert: %w", scanErr)
	}
	return exists, nil
}

// GetAlert loads a single alert.
func (s *Store) GetAlert(ctx context.Context, id string) (Alert, error) {
	pool, err := s.getPool()
	if err != nil {
		return Alert{}, err
	}
	alert, scanErr := scanAlert(pool.QueryRow(ctx, getAlertSQL, id))
	if errors.Is(scanErr, pgx.ErrNoRows) {
		return Alert{}, ErrNotFound
	}
	if scanErr != nil {
		return Alert{}, fmt.Errorf("get alert: %w", scanErr)
	}
	return alert, nil
}

// ListAlertsByStatus lists the oldest alerts in status.
func (s *Store) ListAlertsByStatus(ctx context.Context, status Status, limit int) ([]Alert, error) {
	return s.queryAlerts(ctx, "list alerts by status", listAlertsByStatusSQL, string(status), limit)
}

// ListExecutable lists APPROVED auto-execute alerts matching query, oldest first.
func (s *Store) ListExecutable(ctx context.Context, query ExecutableQuery) ([]Alert, error) {
	levels := make([]string, 0, len(query.RiskLevels))
	for _, level := range query.RiskLevels {
		levels = append(levels, string(level))
	}
	return s.queryAlerts(ctx, "list executable alerts", listExecutableSQL, levels, query.MaxAttempts, query.Limit)
}

// ListRecentAlerts lists most recent alerts.
func (s *Store) ListRecentAlerts(ctx context.Context, limit int) ([]Alert, error) {
	return s.queryAlerts(ctx, "list recent alerts", listRecentAlertsSQL, limit)
}

// TransitionAlert performs the compare-and-swap status update.
func (s *Store) TransitionAlert(ctx context.Context, id string, from, to Status, patch AlertPatch) (Alert, error) {
	if !CanTransition(from, to) {
		return Alert{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	pool, err := s.getPool()
	if err != nil {
		return Alert{}, err
	}

	var validation interface{}
	if patch.AIValidation != nil {
		encoded, marshalErr := json.Marshal(patch.AIValidation)
		if marshalErr != nil {
			return Alert{}, fmt.Errorf("marshal ai validation: %w", marshalErr)
		}
		validation = encoded
	}
	attempts := 0
	if patch.IncrementAttempts {
		attempts = 1
	}

	row := pool.QueryRow(ctx, transitionAlertSQL,
		id,
		string(from),
		string(to),
		validation,
		nullableString(patch.OrderID),
		nullableString(patch.ExecutionMethod),
		nullableDecimal(patch.ExecutionPrice),
		nullableDecimal(patch.ExecutionSize),
		patch.ClearExecutionError,
		nullableString(patch.ExecutionError),
		attempts,
		nullableTime(patch.AnalyzedAt),
		nullableTime(patch.ExecutedAt),
		nullableTime(patch.ExecutionStartedAt),
	)
	updated, scanErr := scanAlert(row)
	if scanErr == nil {
		return updated, nil
	}
	if !errors.Is(scanErr, pgx.ErrNoRows) {
		return Alert{}, fmt.Errorf("transition alert: %w", scanErr)
	}

	var current string
	if statusErr := pool.QueryRow(ctx, alertStatusSQL, id).Scan(&current); statusErr != nil {
		if errors.Is(statusErr, pgx.ErrNoRows) {
			return Alert{}, ErrNotFound
		}
		return Alert{}, fmt.Errorf("read alert status: %w", statusErr)
	}
	return Alert{}, fmt.Errorf("%w: expected %s, found %s", ErrStaleTransition, from, current)
}

func (s *Store) queryAlerts(ctx context.Context, op, query string, args ...any) ([]Alert, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, query, args...)
	if queryErr != nil {
		return nil, fmt.Errorf("%s: %w", op, queryErr)
	}
	defer rows.Close()

	alerts := make([]Alert, 0)
	for rows.Next() {
		alert, scanErr := scanAlert(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("%s: %w", op, scanErr)
		}
		alerts = append(alerts, alert)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return alerts, nil
}

func prepareNewAlert(alert Alert, now time.Time) Alert {
	if alert.ID == "" {
		alert.ID = uuid.NewString()
	}
	if alert.Type == "" {
		alert.Type = AlertTypeArbitrage
	}
	alert.Status = StatusPending
	alert.ExecutionAttempts = 0
	if alert.CreatedAt.IsZero() {
		alert.CreatedAt = now
	}
	alert.UpdatedAt = alert.CreatedAt
	return alert
}

func scanAlert(row rowScanner) (Alert, error) {
	var (
		alert                                   Alert
		spreadStr, weexStr, otherStr, profitStr string
		buyAt, sellAt, risk, status             string
		requested, execPrice, execSize          *string
		validation                              []byte
		orderID, method, execErr                sql.NullString
	)

	if err := row.Scan(
		&alert.ID,
		&alert.Type,
		&alert.Symbol,
		&alert.Asset,
		&spreadStr,
		&weexStr,
		&otherStr,
		&buyAt,
		&sellAt,
		&profitStr,
		&risk,
		&alert.AutoExecute,
		&requested,
		&status,
		&validation,
		&orderID,
		&method,
		&execPrice,
		&execSize,
		&execErr,
		&alert.ExecutionAttempts,
		&alert.AnalyzedAt,
		&alert.ExecutedAt,
		&alert.ExecutionStartedAt,
		&alert.CreatedAt,
		&alert.UpdatedAt,
	); err != nil {
		return Alert{}, err
	}

	var err error
	if alert.SpreadPct, err = decimal.NewFromString(spreadStr); err != nil {
		return Alert{}, fmt.Errorf("parse spread pct: %w", err)
	}
	if alert.WeexPrice, err = decimal.NewFromString(weexStr); err != nil {
		return Alert{}, fmt.Errorf("parse weex price: %w", err)
	}
	if alert.OtherPrice, err = decimal.NewFromString(otherStr); err != nil {
		return Alert{}, fmt.Errorf("parse other price: %w", err)
	}
	if alert.ProjectedProfit, err = decimal.NewFromString(profitStr); err != nil {
		return Alert{}, fmt.Errorf("parse projected profit: %w", err)
	}
	if alert.RequestedTradeSize, err = parseOptionalDecimal(requested); err != nil {
		return Alert{}, fmt.Errorf("parse requested trade size: %w", err)
	}
	if alert.ExecutionPrice, err = parseOptionalDecimal(execPrice); err != nil {
		return Alert{}, fmt.Errorf("parse execution price: %w", err)
	}
	if alert.ExecutionSize, err = parseOptionalDecimal(execSize); err != nil {
		return Alert{}, fmt.Errorf("parse execution size: %w", err)
	}

	alert.BuyAt = Venue(buyAt)
	alert.SellAt = Venue(sellAt)
	alert.RiskLevel = spread.ParseRiskLevel(risk, spread.RiskMedium)
	alert.Status = Status(status)
	if orderID.Valid {
		alert.OrderID = &orderID.String
	}
	if method.Valid {
		alert.ExecutionMethod = &method.String
	}
	if execErr.Valid {
		alert.ExecutionError = &execErr.String
	}
	if len(validation) > 0 {
		var v AIValidation
		if err := json.Unmarshal(validation, &v); err != nil {
			return Alert{}, fmt.Errorf("decode ai validation: %w", err)
		}
		alert.AIValidation = &v
	}
	return alert, nil
}

func parseOptionalDecimal(raw *string) (*decimal.Decimal, error) {
	if raw == nil {
		return nil, nil
	}
	value, err := decimal.NewFromString(*raw)
	if err != nil {
		return nil, err
	}
	return &value, nil
}

func nullableString(v *string) interface{} {
	if v == nil {
		return nil
	}
	return *v
}

func nullableDecimal(v *decimal.Decimal) interface{} {
	if v == nil {
		return nil
	}
	return v.String()
}

func nullableTime(v *time.Time) interface{} {
	if v == nil {
		return nil
	}
	return *v
}
