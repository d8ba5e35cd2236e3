package testutil

import (
	"crypto/ecdsa"
	"testing"

	"CoverLedger/internal/genesis"
	"CoverLedger/internal/signer"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
)

// Well-known fixture addresses.
var (
	Governance = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	User       = common.HexToAddress("0x00000000000000000000000000000000000000bb")
	Updater    = common.HexToAddress("0x00000000000000000000000000000000000000cc")

	RegistryAddr      = common.HexToAddress("0x0000000000000000000000000000000000000101")
	CoverageAddr      = common.HexToAddress("0x0000000000000000000000000000000000000102")
	CoverageV1Addr    = common.HexToAddress("0x0000000000000000000000000000000000000109")
	RiskManagerAddr   = common.HexToAddress("0x0000000000000000000000000000000000000103")
	PolicyManagerAddr = common.HexToAddress("0x0000000000000000000000000000000000000104")
	SCPAddr           = common.HexToAddress("0x0000000000000000000000000000000000000105")
	PaymentAddr       = common.HexToAddress("0x0000000000000000000000000000000000000106")
	SignerAddr        = common.HexToAddress("0x0000000000000000000000000000000000000107")
	PremiumPool       = common.HexToAddress("0x0000000000000000000000000000000000000108")

	SolaceAddr = common.HexToAddress("0x0000000000000000000000000000000000000201")
	USDCAddr   = common.HexToAddress("0x0000000000000000000000000000000000000202")

	StrategyAddr = common.HexToAddress("0x0000000000000000000000000000000000000301")
	ProductAddr  = common.HexToAddress("0x0000000000000000000000000000000000000401")
)

const (
	ChainID          = 1
	GenesisTimestamp = 1000

	attestorKeyHex = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"
)

// Wad returns n * 1e18.
func Wad(n uint64) *uint256.Int {
	return new(uint256.Int).Mul(uint256.NewInt(n), uint256.NewInt(1e18))
}

// AttestorKey returns the fixture's registered price signer key.
func AttestorKey(t testing.TB) *ecdsa.PrivateKey {
	t.Helper()
	key, err := crypto.HexToECDSA(attestorKeyHex)
	if err != nil {
		t.Fatalf("attestor key: %v", err)
	}
	return key
}

// SignPrice produces a price attestation for the fixture's SolaceSigner.
func SignPrice(t testing.TB, token common.Address, price, deadline *uint256.Int) []byte {
	t.Helper()
	domain := signer.Domain{
		Name:              signer.DomainName,
		Version:           signer.DomainVersion,
		ChainID:           uint256.NewInt(ChainID),
		VerifyingContract: SignerAddr,
	}
	sig, err := signer.SignDigest(AttestorKey(t), domain.Digest(signer.PriceHash(token, price, deadline)))
	if err != nil {
		t.Fatalf("sign price: %v", err)
	}
	return sig
}

// Genesis returns a small deployment: one active strategy selling one
// product, a USDC stable token held by User, SOLACE held by the premium
// pool, and the attestor key registered as signer.
func Genesis(t testing.TB) *genesis.Genesis {
	t.Helper()
	maxAllowance := genesis.NewAmount(new(uint256.Int).SetAllOne())

	return &genesis.Genesis{
		ChainID:    ChainID,
		Timestamp:  GenesisTimestamp,
		Governance: Governance,
		Contracts: genesis.Contracts{
			Registry:               RegistryAddr,
			CoverageDataProvider:   CoverageAddr,
			CoverageDataProviderV1: CoverageV1Addr,
			RiskManager:            RiskManagerAddr,
			PolicyManager:          PolicyManagerAddr,
			SCP:                    SCPAddr,
			CoverPaymentManager:    PaymentAddr,
			SolaceSigner:           SignerAddr,
			PremiumPool:            PremiumPool,
		},
		Solace: SolaceAddr,
		Tokens: []genesis.Token{
			{
				Address: SolaceAddr, Name: "solace", Symbol: "SOLACE", Decimals: 18,
				Accepted: true, Refundable: true,
				Balances: map[common.Address]genesis.Amount{PremiumPool: genesis.NewAmount(Wad(1_000_000))},
			},
			{
				Address: USDCAddr, Name: "usd coin", Symbol: "USDC", Decimals: 18,
				Accepted: true, Refundable: true, Stable: true,
				Balances: map[common.Address]genesis.Amount{User: genesis.NewAmount(Wad(10_000))},
			},
		},
		Allowances: []genesis.Allowance{
			{Token: SolaceAddr, Owner: PremiumPool, Spender: PaymentAddr, Amount: maxAllowance},
			{Token: USDCAddr, Owner: User, Spender: PaymentAddr, Amount: maxAllowance},
		},
		Pools: []genesis.Pool{
			{Name: "uwp-a", Amount: genesis.NewAmount(uint256.NewInt(1000))},
		},
		UwpUpdaters: []common.Address{Updater},
		Strategies: []genesis.Strategy{
			{
				Address: StrategyAddr, Weight: 1, Active: true,
				Products: []genesis.Product{{Address: ProductAddr, Weight: 1, Price: 100, Divisor: 1}},
			},
		},
		Signers: []common.Address{crypto.PubkeyToAddress(AttestorKey(t).PublicKey)},
	}
}
