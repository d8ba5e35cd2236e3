package query

// Amounts are returned twice: Raw is the integer base-unit value, the plain
// field is the same value scaled by the token's decimals.

// ScpBalanceResponse is a holder's SCP position.
type ScpBalanceResponse struct {
	Holder           string `json:"holder"`
	Balance          string `json:"balance"`
	BalanceRaw       string `json:"balance_raw"`
	Refundable       string `json:"refundable"`
	NonRefundable    string `json:"non_refundable"`
	NonRefundableRaw string `json:"non_refundable_raw"`
	MinScpRequired   string `json:"min_scp_required,omitempty"`
	AsOfSequence     int64  `json:"as_of_sequence"`
}

// PoolResponse is one underwriting pool valuation.
type PoolResponse struct {
	Provider string `json:"provider"`
	Name     string `json:"name"`
	Amount   string `json:"amount"`
}

// PoolsResponse lists every projected pool valuation.
type PoolsResponse struct {
	Pools        []PoolResponse `json:"pools"`
	MaxCover     string         `json:"max_cover"`
	AsOfSequence int64          `json:"as_of_sequence"`
}

// StrategyResponse describes a registered risk strategy.
type StrategyResponse struct {
	Address           string            `json:"address"`
	ID                uint64            `json:"id"`
	Status            string            `json:"status"`
	Weight            uint32            `json:"weight"`
	MaxCover          string            `json:"max_cover"`
	SellableCover     string            `json:"sellable_cover"`
	ActiveCoverLimit  string            `json:"active_cover_limit"`
	MinCapitalRequire string            `json:"min_capital_requirement"`
	Products          []ProductResponse `json:"products,omitempty"`
	AsOfSequence      int64             `json:"as_of_sequence"`
}

// ProductResponse is a product's risk parameters inside a strategy.
type ProductResponse struct {
	Product           string `json:"product"`
	Weight            uint32 `json:"weight"`
	Price             uint32 `json:"price"`
	Divisor           uint16 `json:"divisor"`
	MaxCover          string `json:"max_cover"`
	SellableCover     string `json:"sellable_cover"`
	MaxCoverPerPolicy string `json:"max_cover_per_policy"`
}

// RiskResponse summarizes RiskManager state.
type RiskResponse struct {
	MaxCover              string             `json:"max_cover"`
	ActiveCoverLimit      string             `json:"active_cover_limit"`
	MinCapitalRequirement string             `json:"min_capital_requirement"`
	PartialReservesFactor uint16             `json:"partial_reserves_factor"`
	WeightSum             uint32             `json:"weight_sum"`
	PolicyCount           uint64             `json:"policy_count"`
	TotalPolicyCover      string             `json:"total_policy_cover"`
	Strategies            []StrategyResponse `json:"strategies"`
	AsOfSequence          int64              `json:"as_of_sequence"`
}

// JournalHistoryEntry is a journal row touching a holder.
type JournalHistoryEntry struct {
	JournalID     string `json:"journal_id"`
	BatchID       string `json:"batch_id"`
	EventRef      string `json:"event_ref"`
	Sequence      int64  `json:"sequence"`
	DebitAccount  string `json:"debit_account"`
	CreditAccount string `json:"credit_account"`
	Amount        string `json:"amount"`
	JournalType   int32  `json:"journal_type"`
	Timestamp     int64  `json:"timestamp"`
}

// StatusResponse is the engine and projection freshness report.
type StatusResponse struct {
	Sequence   int64            `json:"sequence"`
	StateHash  string           `json:"state_hash"`
	Watermarks map[string]int64 `json:"watermarks,omitempty"`
}

// IntegrityReport is the result of an integrity verification check.
type IntegrityReport struct {
	IsHealthy       bool    `json:"is_healthy"`
	HashChainBreaks []int64 `json:"hash_chain_breaks,omitempty"`
	// SupplyImbalance is issuance minus the sum of user balances; zero when healthy.
	SupplyImbalance string `json:"supply_imbalance"`
	InvariantError  string `json:"invariant_error,omitempty"`
}
