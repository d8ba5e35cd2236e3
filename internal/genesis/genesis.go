// Package genesis describes the deployment a CoverLedger node starts from:
// contract addresses, governance, initial pool valuations, strategies,
// tokens and capability sets. Replaying the transaction log on top of the
// same genesis reproduces the same state hash chain.
package genesis

import (
	"fmt"
	"os"

	fpmath "CoverLedger/internal/math"
	"CoverLedger/internal/state"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"gopkg.in/yaml.v3"
)

// Amount is a uint256 written in YAML as a decimal or 0x-hex string.
type Amount struct {
	uint256.Int
}

func (a *Amount) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	v, err := fpmath.ParseAmount(s)
	if err != nil {
		return fmt.Errorf("line %d: invalid amount %q", node.Line, s)
	}
	a.Int = *v
	return nil
}

func (a Amount) MarshalYAML() (interface{}, error) {
	return a.Int.Dec(), nil
}

// Value returns a fresh copy of the amount.
func (a *Amount) Value() *uint256.Int {
	return new(uint256.Int).Set(&a.Int)
}

// NewAmount is a convenience for building genesis documents in code.
func NewAmount(v *uint256.Int) Amount {
	return Amount{Int: *v}
}

type Contracts struct {
	Registry               common.Address `yaml:"registry"`
	CoverageDataProvider   common.Address `yaml:"coverageDataProvider"`
	CoverageDataProviderV1 common.Address `yaml:"coverageDataProviderV1"`
	RiskManager            common.Address `yaml:"riskManager"`
	PolicyManager          common.Address `yaml:"policyManager"`
	SCP                    common.Address `yaml:"scp"`
	CoverPaymentManager    common.Address `yaml:"coverPaymentManager"`
	SolaceSigner           common.Address `yaml:"solaceSigner"`
	PremiumPool            common.Address `yaml:"premiumPool"`
}

type Token struct {
	Address     common.Address            `yaml:"address"`
	Name        string                    `yaml:"name"`
	Symbol      string                    `yaml:"symbol"`
	Decimals    uint8                     `yaml:"decimals"`
	Accepted    bool                      `yaml:"accepted"`
	Permittable bool                      `yaml:"permittable"`
	Refundable  bool                      `yaml:"refundable"`
	Stable      bool                      `yaml:"stable"`
	Minters     []common.Address          `yaml:"minters"`
	Balances    map[common.Address]Amount `yaml:"balances"`
}

type Allowance struct {
	Token   common.Address `yaml:"token"`
	Owner   common.Address `yaml:"owner"`
	Spender common.Address `yaml:"spender"`
	Amount  Amount         `yaml:"amount"`
}

type Pool struct {
	Name   string `yaml:"name"`
	Amount Amount `yaml:"amount"`
}

type Product struct {
	Address common.Address `yaml:"address"`
	Weight  uint32         `yaml:"weight"`
	Price   uint32         `yaml:"price"`
	Divisor uint16         `yaml:"divisor"`
}

func (p Product) Params() state.ProductRiskParams {
	return state.ProductRiskParams{Weight: p.Weight, Price: p.Price, Divisor: p.Divisor}
}

type Strategy struct {
	Address  common.Address `yaml:"address"`
	Weight   uint32         `yaml:"weight"`
	Active   bool           `yaml:"active"`
	Products []Product      `yaml:"products"`
}

// Genesis is the root document.
type Genesis struct {
	ChainID    uint64         `yaml:"chainId"`
	Timestamp  uint64         `yaml:"timestamp"`
	Governance common.Address `yaml:"governance"`
	Contracts  Contracts      `yaml:"contracts"`

	// Solace must name one of Tokens.
	Solace common.Address `yaml:"solace"`
	Tokens []Token        `yaml:"tokens"`

	Allowances []Allowance `yaml:"allowances"`

	Pools                 []Pool           `yaml:"pools"`
	UwpUpdaters           []common.Address `yaml:"uwpUpdaters"`
	Strategies            []Strategy       `yaml:"strategies"`
	CoverLimitUpdaters    []common.Address `yaml:"coverLimitUpdaters"`
	PartialReservesFactor uint16           `yaml:"partialReservesFactor"`
	MinScpRatioBps        uint16           `yaml:"minScpRatioBps"`
	Signers               []common.Address `yaml:"signers"`
	ScpMovers             []common.Address `yaml:"scpMovers"`
	PaymentProducts       []common.Address `yaml:"paymentProducts"`
}

// Load reads and validates a genesis file.
func Load(path string) (*Genesis, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read genesis: %w", err)
	}
	return Parse(raw)
}

// Parse decodes and validates a genesis document.
func Parse(raw []byte) (*Genesis, error) {
	var g Genesis
	if err := yaml.Unmarshal(raw, &g); err != nil {
		return nil, fmt.Errorf("decode genesis: %w", err)
	}
	if err := g.Validate(); err != nil {
		return nil, err
	}
	return &g, nil
}

// Validate checks structural requirements. Domain rules (weights, MCR,
// reserve factors) are enforced by the contracts when genesis is applied.
func (g *Genesis) Validate() error {
	if g.ChainID == 0 {
		return fmt.Errorf("genesis: chainId is required")
	}
	if g.Governance == (common.Address{}) {
		return fmt.Errorf("genesis: governance is required")
	}

	seen := make(map[common.Address]string)
	claim := func(name string, addr common.Address, required bool) error {
		if addr == (common.Address{}) {
			if required {
				return fmt.Errorf("genesis: %s address is required", name)
			}
			return nil
		}
		if prev, ok := seen[addr]; ok {
			return fmt.Errorf("genesis: %s and %s share address %s", prev, name, addr.Hex())
		}
		seen[addr] = name
		return nil
	}

	c := g.Contracts
	for _, e := range []struct {
		name     string
		addr     common.Address
		required bool
	}{
		{"registry", c.Registry, true},
		{"coverageDataProvider", c.CoverageDataProvider, true},
		{"coverageDataProviderV1", c.CoverageDataProviderV1, false},
		{"riskManager", c.RiskManager, true},
		{"policyManager", c.PolicyManager, true},
		{"scp", c.SCP, true},
		{"coverPaymentManager", c.CoverPaymentManager, true},
		{"solaceSigner", c.SolaceSigner, true},
		{"premiumPool", c.PremiumPool, true},
	} {
		if err := claim(e.name, e.addr, e.required); err != nil {
			return err
		}
	}

	solaceFound := false
	for i, t := range g.Tokens {
		if err := claim(fmt.Sprintf("tokens[%d]", i), t.Address, true); err != nil {
			return err
		}
		if t.Address == g.Solace {
			solaceFound = true
		}
	}
	if !solaceFound {
		return fmt.Errorf("genesis: solace %s is not among tokens", g.Solace.Hex())
	}

	for i, s := range g.Strategies {
		if err := claim(fmt.Sprintf("strategies[%d]", i), s.Address, true); err != nil {
			return err
		}
	}

	return nil
}
