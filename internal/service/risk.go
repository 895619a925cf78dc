package service

import (
	"context"
	"fmt"

	"spread-sentinel/internal/spread"
	"spread-sentinel/internal/storage"
)

// RiskCeiling returns the most permissive auto-execute tier among enabled
// users. ok is false when nobody has auto-execution enabled.
func RiskCeiling(ctx context.Context, prefs storage.PreferenceStore) (ceiling spread.RiskLevel, ok bool, err error) {
	list, err := prefs.ListAutoExecutePreferences(ctx)
	if err != nil {
		return "", false, fmt.Errorf("list auto-execute preferences: %w", err)
	}
	levels := make([]spread.RiskLevel, 0, len(list))
	for _, p := range list {
		if !p.AutoExecuteEnabled {
			continue
		}
		levels = append(levels, spread.ParseRiskLevel(string(p.AutoExecuteMaxRisk), spread.RiskMedium))
	}
	ceiling = spread.MostPermissive(levels...)
	return ceiling, ceiling != "", nil
}
