package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"spread-sentinel/internal/spread"
)

const (
	upsertLiveFeedSQL = `INSERT INTO live_feed (
        asset,
        symbol,
        exchange,
        price,
        other_exchange_price,
        spread_pct,
        source,
        last_updated
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8
    )
    ON CONFLICT (asset) DO UPDATE
    SET
        symbol               = EXCLUDED.symbol,
        exchange             = EXCLUDED.exchange,
        price                = EXCLUDED.price,
        other_exchange_price = EXCLUDED.other_exchange_price,
        spread_pct           = EXCLUDED.spread_pct,
        source               = EXCLUDED.source,
        last_updated         = EXCLUDED.last_updated;`

	upsertSnapshotSQL = `INSERT INTO market_snapshots (
        collection,
        key,
        payload,
        last_updated
    ) VALUES (
        $1,$2,$3,$4
    )
    ON CONFLICT (collection, key) DO UPDATE
    SET
        payload      = EXCLUDED.payload,
        last_updated = EXCLUDED.last_updated;`

	insertSpreadSampleSQL = `INSERT INTO spread_samples (
        observed_at,
        symbol,
        weex_price,
        other_price,
        spread_pct,
        source
    ) VALUES (
        $1,$2,$3,$4,$5,$6
    );`

	listSpreadSamplesSQL = `SELECT
        observed_at,
        symbol,
        weex_price::text,
        other_price::text,
        spread_pct::text,
        source
    FROM spread_samples
    WHERE observed_at >= $1
      AND observed_at < $2
      AND ($3 = '' OR symbol = $3)
    ORDER BY observed_at;`

	listAutoExecutePreferencesSQL = `SELECT
        user_id,
        auto_execute_enabled,
        COALESCE(auto_execute_max_risk, ''),
        updated_at
    FROM user_preferences
    WHERE auto_execute_enabled;`

	upsertPreferenceSQL = `INSERT INTO user_preferences (
        user_id,
        auto_execute_enabled,
        auto_execute_max_risk,
        updated_at
    ) VALUES (
        $1,$2,$3,NOW()
    )
    ON CONFLICT (user_id) DO UPDATE
    SET
        auto_execute_enabled  = EXCLUDED.auto_execute_enabled,
        auto_execute_max_risk = EXCLUDED.auto_execute_max_risk,
        updated_at            = NOW();`

	insertAuditSQL = `INSERT INTO audit_log (event, detail) VALUES ($1, $2);`

	listRecentAuditSQL = `SELECT id, event, detail, created_at
    FROM audit_log
    ORDER BY created_at DESC, id DESC
    LIMIT $1;`
)

// UpsertLiveFeed overwrites the latest observation for the asset.
func (s *Store) UpsertLiveFeed(ctx context.Context, feed LiveFeed) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	_, execErr := pool.Exec(ctx, upsertLiveFeedSQL,
		feed.Asset,
		feed.Symbol,
		feed.Exchange,
		feed.Price.String(),
		feed.OtherPrice.String(),
		feed.SpreadPct.String(),
		feed.Source,
		feed.UpdatedAt,
	)
	if execErr != nil {
		return fmt.Errorf("upsert live feed: %w", execErr)
	}
	return nil
}

// UpsertSnapshot overwrites the payload stored at (collection, key).
func (s *Store) UpsertSnapshot(ctx context.Context, snap Snapshot) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, upsertSnapshotSQL, snap.Collection, snap.Key, []byte(snap.Payload), snap.UpdatedAt); execErr != nil {
		return fmt.Errorf("upsert snapshot %s/%s: %w", snap.Collection, snap.Key, execErr)
	}
	return nil
}

// AppendSpreadSample records one detector observation.
func (s *Store) AppendSpreadSample(ctx context.Context, sample SpreadSample) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	_, execErr := pool.Exec(ctx, insertSpreadSampleSQL,
		sample.ObservedAt,
		sample.Symbol,
		sample.WeexPrice.String(),
		sample.OtherPrice.String(),
		sample.SpreadPct.String(),
		sample.Source,
	)
	if execErr != nil {
		return fmt.Errorf("append spread sample: %w", execErr)
	}
	return nil
}

// ListSpreadSamples lists samples within a time window; empty symbol means all.
func (s *Store) ListSpreadSamples(ctx context.Context, symbol string, from, to time.Time) ([]SpreadSample, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listSpreadSamplesSQL, from, to, symbol)
	if queryErr != nil {
		return nil, fmt.Errorf("list spread samples: %w", queryErr)
	}
	defer rows.Close()

	samples := make([]SpreadSample, 0)
	for rows.Next() {
		var (
			sample                      SpreadSample
			weexStr, otherStr, pctStr string
		)
		if err := rows.Scan(&sample.ObservedAt, &sample.Symbol, &weexStr, &otherStr, &pctStr, &sample.Source); err != nil {
			return nil, err
		}
		if sample.WeexPrice, err = decimal.NewFromString(weexStr); err != nil {
			return nil, fmt.Errorf("parse weex price: %w", err)
		}
		if sample.OtherPrice, err = decimal.NewFromString(otherStr); err != nil {
			return nil, fmt.Errorf("parse other price: %w", err)
		}
		if sample.SpreadPct, err = decimal.NewFromString(pctStr); err != nil {
			return nil, fmt.Errorf("parse spread pct: %w", err)
		}
		samples = append(samples, sample)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return samples, nil
}

// ListAutoExecutePreferences returns users with auto-execution enabled.
func (s *Store) ListAutoExecutePreferences(ctx context.Context) ([]UserPreference, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listAutoExecutePreferencesSQL)
	if queryErr != nil {
		return nil, fmt.Errorf("list preferences: %w", queryErr)
	}
	defer rows.Close()

	prefs := make([]UserPreference, 0)
	for rows.Next() {
		var (
			pref UserPreference
			risk string
		)
		if err := rows.Scan(&pref.UserID, &pref.AutoExecuteEnabled, &risk, &pref.UpdatedAt); err != nil {
			return nil, err
		}
		pref.AutoExecuteMaxRisk = spread.ParseRiskLevel(risk, spread.RiskMedium)
		prefs = append(prefs, pref)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return prefs, nil
}

// UpsertPreference writes a user's auto-execution setting.
func (s *Store) UpsertPreference(ctx context.Context, pref UserPreference) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	var risk interface{}
	if pref.AutoExecuteMaxRisk != "" {
		risk = string(pref.AutoExecuteMaxRisk)
	}
	if _, execErr := pool.Exec(ctx, upsertPreferenceSQL, pref.UserID, pref.AutoExecuteEnabled, risk); execErr != nil {
		return fmt.Errorf("upsert preference: %w", execErr)
	}
	return nil
}

// RecordAudit appends an event with a JSON detail.
func (s *Store) RecordAudit(ctx context.Context, event string, detail any) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	payload, err := json.Marshal(detail)
	if err != nil {
		return fmt.Errorf("marshal audit detail: %w", err)
	}
	if _, execErr := pool.Exec(ctx, insertAuditSQL, event, payload); execErr != nil {
		return fmt.Errorf("record audit: %w", execErr)
	}
	return nil
}

// ListRecentAudit returns the newest audit entries first.
func (s *Store) ListRecentAudit(ctx context.Context, limit int) ([]AuditEntry, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentAuditSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list audit: %w", queryErr)
	}
	defer rows.Close()

	entries := make([]AuditEntry, 0, limit)
	for rows.Next() {
		var entry AuditEntry
		if err := rows.Scan(&entry.ID, &entry.Event, &entry.Detail, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return entries, nil
}
