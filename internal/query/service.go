package query

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"CoverLedger/internal/core"
	"CoverLedger/internal/state"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

var ErrNotFound = errors.New("not found")

// StateReader is the engine's read surface.
type StateReader interface {
	View(fn func(s *core.System))
	GetSequence() int64
	GetStateHash() [32]byte
	AuditInvariants() error
}

// QueryService answers reads. Balances, pools and receipts come from the
// projection tables and carry as_of_sequence; risk and strategy views are
// read from live engine state.
type QueryService struct {
	db    *sql.DB
	state StateReader
}

// NewQueryService accepts a nil db (projections unavailable) or a nil
// state reader (live views unavailable).
func NewQueryService(db *sql.DB, state StateReader) *QueryService {
	return &QueryService{db: db, state: state}
}

// GetScpBalance returns a holder's projected SCP balance. Holders with no
// row have a zero balance.
func (qs *QueryService) GetScpBalance(ctx context.Context, holder common.Address) (*ScpBalanceResponse, error) {
	if qs.db == nil {
		return nil, errors.New("projections unavailable")
	}
	asOf, err := qs.watermark(ctx, "scp_balances")
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	refundable, nonRefundable := decimal.Zero, decimal.Zero
	var r, n string
	err = qs.db.QueryRowContext(ctx, `
		SELECT refundable::TEXT, non_refundable::TEXT
		FROM projections.scp_balances WHERE holder = $1
	`, strings.ToLower(holder.Hex())).Scan(&r, &n)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return nil, err
	default:
		if refundable, err = decimal.NewFromString(r); err != nil {
			return nil, err
		}
		if nonRefundable, err = decimal.NewFromString(n); err != nil {
			return nil, err
		}
	}

	total := refundable.Add(nonRefundable)
	resp := &ScpBalanceResponse{
		Holder:           holder.Hex(),
		Balance:          FormatUnits(total, ScpDecimals),
		BalanceRaw:       total.String(),
		Refundable:       FormatUnits(refundable, ScpDecimals),
		NonRefundable:    FormatUnits(nonRefundable, ScpDecimals),
		NonRefundableRaw: nonRefundable.String(),
		AsOfSequence:     asOf,
	}

	if qs.state != nil {
		qs.state.View(func(s *core.System) {
			if req, err := s.SCP.MinScpRequired(holder); err == nil {
				resp.MinScpRequired = FormatUint256(req, ScpDecimals)
			}
		})
	}
	return resp, nil
}

// GetPools returns every projected underwriting pool valuation.
func (qs *QueryService) GetPools(ctx context.Context) (*PoolsResponse, error) {
	if qs.db == nil {
		return nil, errors.New("projections unavailable")
	}
	asOf, err := qs.watermark(ctx, "pool_valuations")
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	rows, err := qs.db.QueryContext(ctx, `
		SELECT provider, uwp_name, amount::TEXT
		FROM projections.pool_valuations
		ORDER BY provider, uwp_name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	resp := &PoolsResponse{Pools: []PoolResponse{}, AsOfSequence: asOf}
	sum := decimal.Zero
	for rows.Next() {
		var p PoolResponse
		var amount string
		if err := rows.Scan(&p.Provider, &p.Name, &amount); err != nil {
			return nil, err
		}
		d, err := decimal.NewFromString(amount)
		if err != nil {
			return nil, err
		}
		p.Amount = FormatUnits(d, ScpDecimals)
		sum = sum.Add(d)
		resp.Pools = append(resp.Pools, p)
	}
	resp.MaxCover = FormatUnits(sum, ScpDecimals)
	return resp, rows.Err()
}

// GetReceipt returns the stored receipt JSON for txID.
func (qs *QueryService) GetReceipt(ctx context.Context, txID string) ([]byte, error) {
	if qs.db == nil {
		return nil, errors.New("projections unavailable")
	}
	var body []byte
	err := qs.db.QueryRowContext(ctx,
		`SELECT receipt FROM projections.receipts WHERE tx_id = $1`, txID).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return body, err
}

// GetRisk reads RiskManager state and every registered strategy.
func (qs *QueryService) GetRisk(_ context.Context) (*RiskResponse, error) {
	if qs.state == nil {
		return nil, errors.New("engine state unavailable")
	}

	var resp *RiskResponse
	var viewErr error
	qs.state.View(func(s *core.System) {
		rm := s.RiskManager
		maxCover, err := rm.MaxCover()
		if err != nil {
			viewErr = err
			return
		}
		resp = &RiskResponse{
			MaxCover:              FormatUint256(maxCover, ScpDecimals),
			ActiveCoverLimit:      FormatUint256(rm.ActiveCoverLimit(), ScpDecimals),
			MinCapitalRequirement: FormatUint256(rm.MinCapitalRequirement(), ScpDecimals),
			PartialReservesFactor: rm.PartialReservesFactor(),
			WeightSum:             rm.WeightSum(),
			PolicyCount:           s.PolicyManager.TotalPolicyCount(),
			TotalPolicyCover:      FormatUint256(s.PolicyManager.TotalCoverLimit(), ScpDecimals),
			Strategies:            []StrategyResponse{},
		}
		for i := 1; i <= rm.NumStrategies(); i++ {
			addr, err := rm.StrategyAt(i)
			if err != nil {
				viewErr = err
				return
			}
			sr, err := strategyView(s, addr, false)
			if err != nil {
				viewErr = err
				return
			}
			resp.Strategies = append(resp.Strategies, *sr)
		}
	})
	if viewErr != nil {
		return nil, viewErr
	}
	resp.AsOfSequence = qs.state.GetSequence() - 1
	return resp, nil
}

// GetStrategy describes one strategy including its products.
func (qs *QueryService) GetStrategy(_ context.Context, addr common.Address) (*StrategyResponse, error) {
	if qs.state == nil {
		return nil, errors.New("engine state unavailable")
	}

	var resp *StrategyResponse
	var viewErr error
	qs.state.View(func(s *core.System) {
		resp, viewErr = strategyView(s, addr, true)
	})
	if viewErr != nil {
		return nil, viewErr
	}
	resp.AsOfSequence = qs.state.GetSequence() - 1
	return resp, nil
}

func strategyView(s *core.System, addr common.Address, withProducts bool) (*StrategyResponse, error) {
	info, ok := s.RiskManager.StrategyInfo(addr)
	if !ok {
		return nil, ErrNotFound
	}
	rm := s.RiskManager
	maxCover, err := rm.MaxCoverPerStrategy(addr)
	if err != nil {
		return nil, err
	}
	resp := &StrategyResponse{
		Address:           addr.Hex(),
		ID:                info.ID,
		Status:            info.Status.String(),
		Weight:            info.Weight,
		MaxCover:          FormatUint256(maxCover, ScpDecimals),
		ActiveCoverLimit:  FormatUint256(rm.ActiveCoverLimitPerStrategy(addr), ScpDecimals),
		MinCapitalRequire: FormatUint256(rm.MinCapitalRequirementPerStrategy(addr), ScpDecimals),
		SellableCover:     "0",
	}

	rs, ok := s.Strategies[addr]
	if !ok {
		return resp, nil
	}
	if sellable, err := rs.SellableCover(); err == nil {
		resp.SellableCover = FormatUint256(sellable, ScpDecimals)
	}
	if !withProducts {
		return resp, nil
	}
	for i := 1; i <= rs.NumProducts(); i++ {
		product, err := rs.ProductAt(i)
		if err != nil {
			return nil, err
		}
		pv, err := productView(rs, product)
		if err != nil {
			return nil, err
		}
		resp.Products = append(resp.Products, pv)
	}
	return resp, nil
}

func productView(rs *state.RiskStrategy, product common.Address) (ProductResponse, error) {
	p, _ := rs.ProductRiskParams(product)
	pv := ProductResponse{Product: product.Hex(), Weight: p.Weight, Price: p.Price, Divisor: p.Divisor}
	maxCover, err := rs.MaxCoverPerProduct(product)
	if err != nil {
		return pv, err
	}
	sellable, err := rs.SellableCoverPerProduct(product)
	if err != nil {
		return pv, err
	}
	perPolicy, err := rs.MaxCoverPerPolicy(product)
	if err != nil {
		return pv, err
	}
	pv.MaxCover = FormatUint256(maxCover, ScpDecimals)
	pv.SellableCover = FormatUint256(sellable, ScpDecimals)
	pv.MaxCoverPerPolicy = FormatUint256(perPolicy, ScpDecimals)
	return pv, nil
}

// GetJournalHistory returns journal entries touching holder, newest first.
// afterSequence pages backwards.
func (qs *QueryService) GetJournalHistory(
	ctx context.Context,
	holder common.Address,
	limit int,
	afterSequence *int64,
) ([]JournalHistoryEntry, error) {
	if qs.db == nil {
		return nil, errors.New("journal unavailable")
	}
	accountPrefix := fmt.Sprintf("user:%s:%%", strings.ToLower(holder.Hex()))

	query := `
		SELECT journal_id, batch_id, event_ref, sequence,
		       debit_account, credit_account, amount::TEXT, journal_type, block_time
		FROM event_log.journal
		WHERE (debit_account LIKE $1 OR credit_account LIKE $1)
	`
	args := []interface{}{accountPrefix}
	argIdx := 2

	if afterSequence != nil {
		query += fmt.Sprintf(" AND sequence < $%d", argIdx)
		args = append(args, *afterSequence)
		argIdx++
	}

	query += " ORDER BY sequence DESC, journal_id"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []JournalHistoryEntry
	for rows.Next() {
		var e JournalHistoryEntry
		if err := rows.Scan(
			&e.JournalID, &e.BatchID, &e.EventRef, &e.Sequence,
			&e.DebitAccount, &e.CreditAccount, &e.Amount,
			&e.JournalType, &e.Timestamp,
		); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}

	return entries, rows.Err()
}

// GetStatus reports the engine tip and projection watermarks.
func (qs *QueryService) GetStatus(ctx context.Context) (*StatusResponse, error) {
	resp := &StatusResponse{Sequence: -1}
	if qs.state != nil {
		resp.Sequence = qs.state.GetSequence() - 1
		resp.StateHash = common.Hash(qs.state.GetStateHash()).Hex()
	}
	if qs.db == nil {
		return resp, nil
	}

	rows, err := qs.db.QueryContext(ctx, `SELECT projection, last_sequence FROM projections.watermark`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	resp.Watermarks = make(map[string]int64)
	for rows.Next() {
		var name string
		var seq int64
		if err := rows.Scan(&name, &seq); err != nil {
			return nil, err
		}
		resp.Watermarks[name] = seq
	}
	return resp, rows.Err()
}

// --- Admin APIs ---

// VerifyIntegrity checks the persisted hash chain links, that journaled
// issuance equals the sum of user balances, and the live invariants.
func (qs *QueryService) VerifyIntegrity(ctx context.Context) (*IntegrityReport, error) {
	report := &IntegrityReport{SupplyImbalance: "0"}

	if qs.db != nil {
		rows, err := qs.db.QueryContext(ctx, `
			SELECT t1.sequence
			FROM event_log.transactions t1
			JOIN event_log.transactions t2 ON t2.sequence = t1.sequence - 1
			WHERE t1.prev_hash != t2.state_hash
			ORDER BY t1.sequence
			LIMIT 10
		`)
		if err != nil {
			return nil, err
		}
		defer rows.Close()
		for rows.Next() {
			var seq int64
			if err := rows.Scan(&seq); err != nil {
				return nil, err
			}
			report.HashChainBreaks = append(report.HashChainBreaks, seq)
		}
		if err := rows.Err(); err != nil {
			return nil, err
		}

		// Issuance is credit-normal, user accounts debit-normal: the signed
		// sum over all legs must be zero.
		var imbalance string
		if err := qs.db.QueryRowContext(ctx, `
			SELECT COALESCE(SUM(CASE WHEN debit_account LIKE 'user:%' THEN amount ELSE 0 END)
			              - SUM(CASE WHEN credit_account LIKE 'user:%' THEN amount ELSE 0 END)
			              - SUM(CASE WHEN credit_account = 'external:issuance' THEN amount ELSE 0 END)
			              + SUM(CASE WHEN debit_account = 'external:issuance' THEN amount ELSE 0 END), 0)::TEXT
			FROM event_log.journal
		`).Scan(&imbalance); err != nil {
			return nil, err
		}
		report.SupplyImbalance = imbalance
	}

	if qs.state != nil {
		if err := qs.state.AuditInvariants(); err != nil {
			report.InvariantError = err.Error()
		}
	}

	report.IsHealthy = len(report.HashChainBreaks) == 0 &&
		report.SupplyImbalance == "0" &&
		report.InvariantError == ""
	return report, nil
}

// --- helpers ---

func (qs *QueryService) watermark(ctx context.Context, projection string) (int64, error) {
	var seq int64
	err := qs.db.QueryRowContext(ctx, `
		SELECT last_sequence FROM projections.watermark WHERE projection = $1
	`, projection).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		return -1, nil
	}
	return seq, err
}
