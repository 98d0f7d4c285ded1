package domain

// Candidate represents a newly discovered liquidity pool awaiting validation.
// PoolID is the Sui object id of the pool and is globally unique per source.
// A Candidate is immutable once created except for Liquidity, which is
// refreshed by the validator.
type Candidate struct {
	PoolID       string   // PRIMARY KEY, Sui object id
	SourceName   string   // venue that emitted the creation event
	CoinA        string   // first coin type, e.g. 0x2::sui::SUI
	CoinB        string   // second coin type
	CreatedAtMs  int64    // event timestamp from the chain (ms)
	DiscoveredAt int64    // local clock at discovery (unix ms)
	Liquidity    *float64 // latest known liquidity, nil when unknown
}

// Verdict is the final outcome of validating a candidate.
type Verdict struct {
	PoolID     string
	State      ValidationState // StateValidated or StateRejected
	Reason     string          // last rejection reason, empty when validated
	RiskScoreA float64
	RiskScoreB float64
	Attempts   int
	DecidedAt  int64 // unix ms
}

// LiquidityPoint is one observation of a pool's liquidity over time.
type LiquidityPoint struct {
	PoolID     string
	Liquidity  float64
	ObservedAt int64 // unix ms
}
