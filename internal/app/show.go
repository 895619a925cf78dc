package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"spread-sentinel/internal/storage"
)

// Show prints recent alerts, or recent audit entries with opts.Audit.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, err := a.openStore(ctx)
	if err != nil {
		return fmt.Errorf("cannot show alerts: %w", err)
	}
	defer store.Close()

	if opts.Audit {
		entries, err := store.ListRecentAudit(ctx, opts.Limit)
		if err != nil {
			return err
		}
		return writeAudit(os.Stdout, entries)
	}

	alerts, err := store.ListRecentAlerts(ctx, opts.Limit)
	if err != nil {
		return err
	}
	return writeAlerts(os.Stdout, alerts)
}

func writeAlerts(out io.Writer, alerts []storage.Alert) error {
	if len(alerts) == 0 {
		fmt.Fprintln(out, "no alerts found")
		return nil
	}

	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Created (UTC)\tSymbol\tSpread%\tWEEX\tOther\tBuy\tRisk\tStatus\tTries\tMethod\tOrder\tError")

	for _, alert := range alerts {
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%d\t%s\t%s\t%s\n",
			alert.CreatedAt.UTC().Format(time.RFC3339),
			alert.Symbol,
			formatDecimal(alert.SpreadPct, 3),
			alert.WeexPrice.String(),
			alert.OtherPrice.String(),
			alert.BuyAt,
			alert.RiskLevel,
			alert.Status,
			alert.ExecutionAttempts,
			deref(alert.ExecutionMethod),
			deref(alert.OrderID),
			sanitizeInline(deref(alert.ExecutionError)),
		)
	}

	return writer.Flush()
}

func writeAudit(out io.Writer, entries []storage.AuditEntry) error {
	if len(entries) == 0 {
		fmt.Fprintln(out, "no audit entries found")
		return nil
	}

	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC)\tEvent\tDetail")
	for _, entry := range entries {
		fmt.Fprintf(writer, "%s\t%s\t%s\n",
			entry.CreatedAt.UTC().Format(time.RFC3339),
			entry.Event,
			sanitizeInline(string(entry.Detail)),
		)
	}
	return writer.Flush()
}

func deref(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}
