package storage

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	"spread-sentinel/internal/spread"
)

// Venue identifies which side of the spread an order leg belongs to.
type Venue string

const (
	VenueWEEX  Venue = "WEEX"
	VenueOther Venue = "OTHER"
)

// AlertTypeArbitrage is the only alert type the detector creates.
const AlertTypeArbitrage = "ARBITRAGE"

// Execution method tags recorded on EXECUTED alerts.
const (
	MethodTriggerOrder  = "AUTO_TRIGGER_ORDER"
	MethodMarketOrder   = "AUTO_MARKET_ORDER"
	MethodAIMarketOrder = "AI_AUTO_MARKET_ORDER"
)

// Recommendation is the judge's verdict label.
type Recommendation string

const (
	RecommendApprove Recommendation = "APPROVE"
	RecommendReject  Recommendation = "REJECT"
	RecommendCaution Recommendation = "CAUTION"
)

// AIValidation is the parsed judgment attached to an alert.
type AIValidation struct {
	SentimentScore float64        `json:"sentiment_score"`
	Confidence     float64        `json:"confidence"`
	Reasoning      string         `json:"reasoning"`
	Recommendation Recommendation `json:"recommendation"`
	Model          string         `json:"model,omitempty"`
	AnalyzedAt     time.Time      `json:"analyzed_at"`
}

// Alert is one detected opportunity and its lifecycle state.
type Alert struct {
	ID                 string
	Type               string
	Symbol             string
	Asset              string
	SpreadPct          decimal.Decimal
	WeexPrice          decimal.Decimal
	OtherPrice         decimal.Decimal
	BuyAt              Venue
	SellAt             Venue
	ProjectedProfit    decimal.Decimal
	RiskLevel          spread.RiskLevel
	AutoExecute        bool
	RequestedTradeSize *decimal.Decimal
	Status             Status
	AIValidation       *AIValidation
	OrderID            *string
	ExecutionMethod    *string
	ExecutionPrice     *decimal.Decimal
	ExecutionSize      *decimal.Decimal
	ExecutionError     *string
	ExecutionAttempts  int
	AnalyzedAt         *time.Time
	ExecutedAt         *time.Time
	ExecutionStartedAt *time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// AlertPatch lists the mutable fields written together with a status change.
// Nil pointers leave the stored value untouched.
type AlertPatch struct {
	AIValidation        *AIValidation
	OrderID             *string
	ExecutionMethod     *string
	ExecutionPrice      *decimal.Decimal
	ExecutionSize       *decimal.Decimal
	ExecutionError      *string
	ClearExecutionError bool
	IncrementAttempts   bool
	AnalyzedAt          *time.Time
	ExecutedAt          *time.Time
	ExecutionStartedAt  *time.Time
}

// UserPreference is the per-user auto-execution setting.
type UserPreference struct {
	UserID             string
	AutoExecuteEnabled bool
	AutoExecuteMaxRisk spread.RiskLevel
	UpdatedAt          time.Time
}

// LiveFeed is the latest detector observation per asset.
type LiveFeed struct {
	Asset      string
	Symbol     string
	Exchange   string
	Price      decimal.Decimal
	OtherPrice decimal.Decimal
	SpreadPct  decimal.Decimal
	Source     string
	UpdatedAt  time.Time
}

// SpreadSample is one historical detector observation.
type SpreadSample struct {
	ObservedAt time.Time
	Symbol     string
	WeexPrice  decimal.Decimal
	OtherPrice decimal.Decimal
	SpreadPct  decimal.Decimal
	Source     string
}

// Snapshot is a write-only market projection keyed by collection and key.
type Snapshot struct {
	Collection string
	Key        string
	Payload    json.RawMessage
	UpdatedAt  time.Time
}

// AuditEntry is an append-only operational event.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    json.RawMessage
	CreatedAt time.Time
}

// Snapshot collections written by the market pollers.
const (
	CollectionOrderBooks     = "order_books"
	CollectionRecentTrades   = "recent_trades"
	CollectionOpenInterest   = "open_interest"
	CollectionFundingRates   = "funding_rates"
	CollectionAccountBalance = "account_balance"
)

// Audit events.
const (
	AuditDetectorError  = "DETECTOR_ERROR"
	AuditTradeExecuted  = "TRADE_EXECUTED"
	AuditExecutionError = "TRADE_EXECUTION_ERROR"
	AuditAlertRejected  = "ALERT_REJECTED"
)
