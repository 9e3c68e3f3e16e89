package domain

import "time"

// MarketQuery links a deployed escrow contract to the search query whose
// result settles it. The resolution fields are populated at most once, by
// the scheduler after the linked query completes.
type MarketQuery struct {
	ContractAddress string // lowercase 0x contract address, primary key
	QueryID         string // 1:1 with queries
	Question        string
	Creator         string // lowercase 0x wallet address
	ResolutionDate  time.Time
	Resolved        bool
	Outcome         *bool
	ResolutionTx    string
	ResolvedAt      *time.Time
	Analysis        string
	CreatedAt       time.Time
}

// Resolution is the outcome of one resolver run against an escrow contract.
// Outcome is nil when no verdict could be extracted from the model output;
// in that case nothing was submitted on-chain.
type Resolution struct {
	Outcome    *bool
	Confidence float64
	Analysis   string
	TxHash     string
	Message    string
}
