package token_test

import (
	"CoverLedger/internal/chain"
	"CoverLedger/internal/signer"
	"CoverLedger/internal/token"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	gov     = common.HexToAddress("0x00000000000000000000000000000000000000a0")
	tokAddr = common.HexToAddress("0x0000000000000000000000000000000000000101")
	spender = common.HexToAddress("0x00000000000000000000000000000000000000d0")
	bob     = common.HexToAddress("0x00000000000000000000000000000000000000e2")
)

func u(v uint64) *uint256.Int { return uint256.NewInt(v) }

func newToken(t *testing.T) (*chain.Env, *chain.ManualClock, *token.ERC20) {
	t.Helper()
	clock := chain.NewManualClock(100)
	env := chain.NewEnv(1, clock)
	tok, err := token.NewERC20(env, tokAddr, gov, "USD Coin", "USDC", 18)
	require.NoError(t, err)
	require.NoError(t, tok.AddMinter(gov, gov))
	return env, clock, tok
}

func TestERC20_TransferAndAllowance(t *testing.T) {
	_, _, tok := newToken(t)
	owner := common.HexToAddress("0xe1")
	require.NoError(t, tok.Mint(gov, owner, u(100)))

	assert.ErrorIs(t, tok.TransferFrom(spender, owner, bob, u(1)), token.ErrInsufficientAllowance)

	require.NoError(t, tok.Approve(owner, spender, u(60)))
	require.NoError(t, tok.TransferFrom(spender, owner, bob, u(50)))
	assert.Equal(t, uint64(10), tok.Allowance(owner, spender).Uint64())
	assert.Equal(t, uint64(50), tok.BalanceOf(bob).Uint64())

	assert.ErrorIs(t, tok.Transfer(owner, bob, u(51)), token.ErrTransferExceedsBalance)
	assert.Equal(t, uint64(100), tok.TotalSupply().Uint64())
}

func TestERC20_MintGate(t *testing.T) {
	_, _, tok := newToken(t)
	assert.ErrorIs(t, tok.Mint(bob, bob, u(1)), token.ErrNotMinter)
	assert.ErrorIs(t, tok.AddMinter(bob, bob), chain.ErrNotGovernance)
}

func TestERC20_RevertRestoresBalances(t *testing.T) {
	env, _, tok := newToken(t)
	require.NoError(t, tok.Mint(gov, bob, u(10)))
	env.Journal.Commit()

	err := env.Atomic(func() error {
		if err := tok.Transfer(bob, spender, u(4)); err != nil {
			return err
		}
		return tok.Transfer(bob, spender, u(7))
	})
	require.ErrorIs(t, err, token.ErrTransferExceedsBalance)
	assert.Equal(t, uint64(10), tok.BalanceOf(bob).Uint64())
	assert.True(t, tok.BalanceOf(spender).IsZero())
}

func signPermit(t *testing.T, tok *token.ERC20, hexKey string, value, deadline *uint256.Int) (common.Address, uint8, [32]byte, [32]byte) {
	t.Helper()
	key, err := crypto.HexToECDSA(hexKey)
	require.NoError(t, err)
	owner := crypto.PubkeyToAddress(key.PublicKey)

	sig, err := signer.SignDigest(key, tok.PermitDigest(owner, spender, value, tok.Nonces(owner), deadline))
	require.NoError(t, err)
	var r, s [32]byte
	copy(r[:], sig[:32])
	copy(s[:], sig[32:64])
	return owner, sig[64], r, s
}

const ownerKey = "8a1f9a8f95be41cd7ccb6168179afb4504aefe388d1e14474d32c45c72ce7b7a"

func TestERC20_Permit(t *testing.T) {
	_, _, tok := newToken(t)
	owner, v, r, s := signPermit(t, tok, ownerKey, u(500), u(200))

	require.NoError(t, tok.Permit(owner, spender, u(500), u(200), v, r, s))
	assert.Equal(t, uint64(500), tok.Allowance(owner, spender).Uint64())
	assert.Equal(t, uint64(1), tok.Nonces(owner))

	// replay uses a stale nonce
	assert.ErrorIs(t, tok.Permit(owner, spender, u(500), u(200), v, r, s), token.ErrPermitInvalidSignature)
}

func TestERC20_PermitExpired(t *testing.T) {
	_, clock, tok := newToken(t)
	owner, v, r, s := signPermit(t, tok, ownerKey, u(500), u(150))

	clock.Set(151)
	assert.ErrorIs(t, tok.Permit(owner, spender, u(500), u(150), v, r, s), token.ErrPermitExpired)
}

func TestERC20_PermitWrongValue(t *testing.T) {
	_, _, tok := newToken(t)
	owner, v, r, s := signPermit(t, tok, ownerKey, u(500), u(200))
	assert.ErrorIs(t, tok.Permit(owner, spender, u(501), u(200), v, r, s), token.ErrPermitInvalidSignature)
}
