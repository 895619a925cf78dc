package judge

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Opportunity is the alert data embedded in the prompt.
type Opportunity struct {
	Symbol          string
	SpreadPct       decimal.Decimal
	WeexPrice       decimal.Decimal
	OtherPrice      decimal.Decimal
	ProjectedProfit decimal.Decimal
	RiskLevel       string
}

// ContextLines returns the free-text context attached to every analysis.
func ContextLines(op Opportunity) []string {
	return []string{
		fmt.Sprintf("Market spread: %s%%", op.SpreadPct.StringFixed(2)),
		fmt.Sprintf("Risk level: %s", op.RiskLevel),
		fmt.Sprintf("Projected profit: $%s", op.ProjectedProfit.StringFixed(2)),
	}
}

// BuildPrompt renders the analysis request.
func BuildPrompt(op Opportunity, context []string) string {
	var b strings.Builder
	b.WriteString("You are a professional cryptocurrency trading analyst. ")
	b.WriteString("Analyze this arbitrage opportunity and respond ONLY with valid JSON (no markdown, no code blocks):\n\n")
	fmt.Fprintf(&b, "Symbol: %s\n", op.Symbol)
	fmt.Fprintf(&b, "Spread: %s%%\n", op.SpreadPct.StringFixed(2))
	fmt.Fprintf(&b, "WEEX Price: $%s\n", op.WeexPrice.StringFixed(2))
	fmt.Fprintf(&b, "Other Exchange Price: $%s\n", op.OtherPrice.StringFixed(2))
	fmt.Fprintf(&b, "Projected Profit: $%s\n", op.ProjectedProfit.StringFixed(2))
	fmt.Fprintf(&b, "Risk Level: %s\n", op.RiskLevel)

	if len(context) > 0 {
		b.WriteString("\nAdditional Context:\n")
		b.WriteString(strings.Join(context, "\n"))
		b.WriteString("\n")
	}

	b.WriteString("\nRespond with ONLY this JSON structure (no other text):\n")
	b.WriteString("{\n")
	b.WriteString("  \"sentiment_score\": <number between -1 and 1>,\n")
	b.WriteString("  \"confidence\": <number between 0 and 1>,\n")
	b.WriteString("  \"reasoning\": \"<brief explanation>\",\n")
	b.WriteString("  \"recommendation\": \"<APPROVE|REJECT|CAUTION>\"\n")
	b.WriteString("}")
	return b.String()
}
