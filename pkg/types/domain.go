package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// BrokerKind identifies one of the three supported execution venues.
type BrokerKind string

const (
	BrokerIG     BrokerKind = "IG"
	BrokerMEXC   BrokerKind = "MEXC"
	BrokerKraken BrokerKind = "KRAKEN"
)

// SessionPhase identifies one of the recurring intraday trading windows.
type SessionPhase string

const (
	PhaseAsiaRange     SessionPhase = "ASIA_RANGE"
	PhaseLondonCore    SessionPhase = "LONDON_CORE"
	PhasePreUSRange    SessionPhase = "PRE_US_RANGE"
	PhaseUSCoreTrading SessionPhase = "US_CORE_TRADING"
	PhaseUSCoreLegacy  SessionPhase = "US_CORE"
	PhaseEIAPre        SessionPhase = "EIA_PRE"
	PhaseEIAPost       SessionPhase = "EIA_POST"
	PhaseFridayLate    SessionPhase = "FRIDAY_LATE"
	PhaseNone          SessionPhase = ""
)

// SessionTimes is a wall-clock UTC window, [Start, End). End < Start means
// the window wraps past midnight.
type SessionTimes struct {
	Start time.Duration // offset from UTC midnight
	End   time.Duration
}

// TradingAsset is a tradable instrument the worker cycles through.
type TradingAsset struct {
	Symbol       string
	Epic         string // broker-specific instrument identifier
	Broker       BrokerKind
	TickSize     decimal.Decimal
	Trades24x7   bool // crypto-style venues skip weekend/Friday-late gating
	Breakout     BreakoutConfig
}

// BreakoutConfig holds per-asset breakout-strategy tuning.
type BreakoutConfig struct {
	MinBreakoutDistanceTicks int
	MaxSetupsPerPhase        int
	EIAReferenceTimeUTC      *time.Duration
	EIAPreMinutes            int
	EIAPostMinutes           int
}

// AssetSessionPhaseConfig declares one configured phase window for an asset.
type AssetSessionPhaseConfig struct {
	Asset             string
	Phase             SessionPhase
	Times             SessionTimes
	Enabled           bool
	Priority          int // ascending; lower value wins on overlap
	IsRangeBuildPhase bool
	IsTradingPhase    bool
}

// Candle1m is a single 1-minute OHLC bar derived from trade ticks.
type Candle1m struct {
	Asset     string
	Open      decimal.Decimal
	High      decimal.Decimal
	Low       decimal.Decimal
	Close     decimal.Decimal
	Volume    decimal.Decimal
	TickCount int
	StartTime time.Time
	EndTime   time.Time
}

// BreakoutRange is a persisted high/low range observed during a phase.
type BreakoutRange struct {
	Asset      string
	Phase      SessionPhase
	High       decimal.Decimal
	Low        decimal.Decimal
	HeightTick int
	StartTime  time.Time
	EndTime    time.Time
}

// SetupKind tags the strategy family that produced a SetupCandidate.
type SetupKind string

const (
	SetupBreakout     SetupKind = "BREAKOUT"
	SetupEIAReversion SetupKind = "EIA_REVERSION"
	SetupEIATrendDay  SetupKind = "EIA_TRENDDAY"
)

// SetupCandidate is a single tradeable opportunity emitted by the strategy
// engine for one asset/phase/instant.
type SetupCandidate struct {
	ID         string
	Asset      string
	Epic       string
	Phase      SessionPhase
	Kind       SetupKind
	Side       OrderSide
	EntryPrice decimal.Decimal
	StopPrice  decimal.Decimal
	TargetPrice decimal.Decimal
	Confidence decimal.Decimal
	CreatedAt  time.Time
}

// RangeStatusCode classifies live price against a persisted BreakoutRange.
type RangeStatusCode string

const (
	RangeStatusNoRange            RangeStatusCode = "NO_RANGE"
	RangeStatusInsideRange        RangeStatusCode = "INSIDE_RANGE"
	RangeStatusNearBreakoutLong   RangeStatusCode = "NEAR_BREAKOUT_LONG"
	RangeStatusNearBreakoutShort  RangeStatusCode = "NEAR_BREAKOUT_SHORT"
	RangeStatusBreakoutLong       RangeStatusCode = "BREAKOUT_LONG"
	RangeStatusBreakoutShort      RangeStatusCode = "BREAKOUT_SHORT"
)

// RangeStatus is the live transparency readout for one asset/phase.
type RangeStatus struct {
	Asset                    string
	Phase                    SessionPhase
	RangeHigh                *decimal.Decimal
	RangeLow                 *decimal.Decimal
	RangeTicks               *int
	TickSize                 decimal.Decimal
	CurrentBid               *decimal.Decimal
	CurrentAsk               *decimal.Decimal
	DistanceToHighTicks      *int
	DistanceToLowTicks       *int
	MinBreakoutDistanceTicks int
	Code                     RangeStatusCode
}

// RiskViolationCode symbolically identifies a risk-engine rejection reason.
type RiskViolationCode string

const (
	RiskMinOrderSize         RiskViolationCode = "RISK_MIN_ORDER_SIZE"
	RiskMaxOrderSize         RiskViolationCode = "RISK_MAX_ORDER_SIZE"
	RiskMaxPositionPct       RiskViolationCode = "RISK_MAX_POSITION_PCT"
	RiskMaxDailyTrades       RiskViolationCode = "RISK_MAX_DAILY_TRADES"
	RiskMaxDailyVolume       RiskViolationCode = "RISK_MAX_DAILY_VOLUME"
	RiskMaxDailyLoss         RiskViolationCode = "RISK_MAX_DAILY_LOSS"
	RiskConsecutiveLosses    RiskViolationCode = "RISK_CONSECUTIVE_LOSSES"
	RiskMaxTotalExposure     RiskViolationCode = "RISK_MAX_TOTAL_EXPOSURE"
	RiskMaxSymbolExposure    RiskViolationCode = "RISK_MAX_SYMBOL_EXPOSURE"
	RiskMaxCorrelatedExposure RiskViolationCode = "RISK_MAX_CORRELATED_EXPOSURE"
	RiskKillSwitchActive     RiskViolationCode = "RISK_KILL_SWITCH_ACTIVE"
	RiskOutsideTradingHours  RiskViolationCode = "RISK_OUTSIDE_TRADING_HOURS"
)

// RiskViolation is one failed risk check.
type RiskViolation struct {
	Code    RiskViolationCode
	Message string
	Value   decimal.Decimal
	Limit   decimal.Decimal
}

// RiskEvaluationResult is the pure output of the risk engine's Evaluate call.
type RiskEvaluationResult struct {
	Approved   bool
	Violations []RiskViolation
	Warnings   []string
}

// SignalStrength is the confidence band the KI orchestrator derives from its
// merged numeric confidence score.
type SignalStrength string

const (
	SignalStrong  SignalStrength = "strong"
	SignalWeak    SignalStrength = "weak"
	SignalNoTrade SignalStrength = "no_trade"
)

// KiEvaluationResult is the merged, two-stage LLM evaluation outcome.
type KiEvaluationResult struct {
	Confidence      decimal.Decimal
	Strength        SignalStrength
	LocalRationale  string
	ReflectionNotes string
	Corrected       bool
	Failed          bool
	FailureReason   string
}

// Position is one broker-reported open position.
type Position struct {
	DealID       string
	Epic         string
	Side         OrderSide
	Size         decimal.Decimal
	OpenLevel    decimal.Decimal
	CurrentLevel decimal.Decimal
	OpenedAt     time.Time
}

// OHLC is one closed historical candle as returned by a broker's historical
// price endpoint, at whatever resolution was requested.
type OHLC struct {
	Time   time.Time
	Open   decimal.Decimal
	High   decimal.Decimal
	Low    decimal.Decimal
	Close  decimal.Decimal
	Volume decimal.Decimal
}

// AccountState is the broker-reported account snapshot.
type AccountState struct {
	Balance        decimal.Decimal
	Equity         decimal.Decimal
	AvailableFunds decimal.Decimal
	AsOf           time.Time
}

// SymbolPrice is a broker-quoted bid/ask snapshot for one instrument.
type SymbolPrice struct {
	Epic      string
	Bid       decimal.Decimal
	Ask       decimal.Decimal
	Timestamp time.Time
}

// OrderRequest is what the execution service asks a broker client to place.
type OrderRequest struct {
	Epic      string
	Side      OrderSide
	Size      decimal.Decimal
	StopLevel decimal.Decimal
	LimitLevel decimal.Decimal
	Shadow    bool
}

// OrderResult is the broker's response to an OrderRequest.
type OrderResult struct {
	DealID       string
	Status       OrderStatus
	FilledPrice  decimal.Decimal
	FilledAt     time.Time
	RejectReason string
}

// WorkerStatus is the singleton last-writer-wins row describing the worker's
// current tick.
type WorkerStatus struct {
	ID              int
	CurrentAsset    string
	CurrentPhase    SessionPhase
	BidPrice        decimal.Decimal
	AskPrice        decimal.Decimal
	LastIteration   int
	LastTickAt      time.Time
	StatusMessage   string
}

// AssetDiagnostics is one hour-aligned diagnostics bucket for a single asset.
// RangesBuilt and RejectionReasons are the persisted, aggregatable form of
// "ranges built per phase" and "rejection-reason -> count" from spec.md §3;
// RiskEvaluated/RiskApproved/RiskRejected together let
// approved + rejected == evaluated be checked directly against a row.
type AssetDiagnostics struct {
	Asset            string
	WindowStart      time.Time
	WindowEnd        time.Time
	SetupsFound      int
	SetupsDiscarded  int
	SetupsExecuted   int
	RiskEvaluated    int
	RiskApproved     int
	RiskRejected     int
	NoDataWarnings   int
	CandlesReceived  int
	RangesBuilt      map[SessionPhase]int
	RejectionReasons map[RiskViolationCode]int
}

// DiagnosticsDelta is one additive increment applied to an asset's current
// hour-bucket row. Zero-valued int fields add nothing; RangePhase and
// RejectionReason, when non-empty, each bump one entry of the
// RangesBuilt/RejectionReasons maps by one.
type DiagnosticsDelta struct {
	SetupsFound     int
	SetupsDiscarded int
	SetupsExecuted  int
	RiskEvaluated   int
	RiskApproved    int
	RiskRejected    int
	NoDataWarnings  int
	CandlesReceived int
	RangePhase      SessionPhase
	RejectionReason RiskViolationCode
}
