package pricefeed

import (
	"context"
	"errors"
	"fmt"
	"time"

	"CoverLedger/internal/core"
	"CoverLedger/internal/observability"
	"CoverLedger/internal/signer"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/puzpuzpuz/xsync/v4"
	"github.com/rs/zerolog"
)

// MaxStoreTTL caps how long the shared store keeps a quote.
const MaxStoreTTL = 24 * time.Hour

var (
	ErrInvalidAttestation = errors.New("invalid price attestation")
	ErrExpired            = errors.New("price attestation expired")
	ErrNoAttestor         = errors.New("no attestor key configured")
)

// Verifier checks attestations against the deployed SolaceSigner.
type Verifier interface {
	VerifyPrice(token common.Address, price, deadline *uint256.Int, signature []byte) bool
	Now() uint64
}

type engineReader interface {
	View(fn func(s *core.System))
}

type engineVerifier struct{ eng engineReader }

// NewEngineVerifier verifies against live engine state at block time.
func NewEngineVerifier(eng engineReader) Verifier {
	return engineVerifier{eng: eng}
}

func (v engineVerifier) VerifyPrice(token common.Address, price, deadline *uint256.Int, signature []byte) bool {
	var ok bool
	v.eng.View(func(s *core.System) {
		ok = s.Signer.VerifyPrice(token, price, deadline, signature)
	})
	return ok
}

func (v engineVerifier) Now() uint64 {
	var now uint64
	v.eng.View(func(s *core.System) { now = s.Clock.Now() })
	return now
}

// Feed serves the latest verified SOLACE price per payment token. Reads
// hit an in-process cache first, then the shared store.
type Feed struct {
	store    Store
	cache    *xsync.Map[common.Address, Attestation]
	verifier Verifier
	attestor *signer.Attestor
	metrics  *observability.Metrics
	log      zerolog.Logger
}

func NewFeed(store Store, verifier Verifier, metrics *observability.Metrics) *Feed {
	return &Feed{
		store:    store,
		cache:    xsync.NewMap[common.Address, Attestation](),
		verifier: verifier,
		metrics:  metrics,
		log:      observability.NewLogger("pricefeed"),
	}
}

// SetAttestor enables Publish.
func (f *Feed) SetAttestor(a *signer.Attestor) { f.attestor = a }

// Submit verifies a and stores it until its deadline.
func (f *Feed) Submit(ctx context.Context, a Attestation) error {
	if err := f.check(a); err != nil {
		f.record(resultOf(err))
		return err
	}

	if err := f.store.Put(ctx, a, storeTTL(a.Deadline.Uint64()-f.verifier.Now())); err != nil {
		f.record("store_error")
		return err
	}

	// The last accepted quote wins in both tiers.
	f.cache.Store(a.Token, a)
	f.record("accepted")
	f.log.Debug().Str("token", a.Token.Hex()).Str("price", a.Price.Dec()).Uint64("deadline", a.Deadline.Uint64()).Msg("price accepted")
	return nil
}

// Publish signs price with the configured attestor and submits it.
func (f *Feed) Publish(ctx context.Context, token common.Address, price *uint256.Int, validFor time.Duration) (Attestation, error) {
	if f.attestor == nil {
		return Attestation{}, ErrNoAttestor
	}
	deadline := uint256.NewInt(f.verifier.Now() + uint64(validFor/time.Second))
	sig, err := f.attestor.SignPrice(token, price, deadline)
	if err != nil {
		return Attestation{}, fmt.Errorf("sign price: %w", err)
	}
	a := Attestation{Token: token, Price: price, Deadline: deadline, Signature: sig}
	return a, f.Submit(ctx, a)
}

// Latest returns the freshest unexpired attestation for token.
func (f *Feed) Latest(ctx context.Context, token common.Address) (Attestation, error) {
	now := f.verifier.Now()
	if a, ok := f.cache.Load(token); ok {
		if a.Deadline.Uint64() >= now {
			return a, nil
		}
		f.cache.Delete(token)
	}

	a, err := f.store.Get(ctx, token)
	if err != nil {
		return Attestation{}, err
	}
	if a.Deadline == nil || a.Deadline.Uint64() < now {
		return Attestation{}, ErrNoPrice
	}
	f.cache.Store(token, a)
	return a, nil
}

func (f *Feed) check(a Attestation) error {
	if a.Price == nil || a.Deadline == nil || a.Price.IsZero() {
		return ErrInvalidAttestation
	}
	if !a.Deadline.IsUint64() || a.Deadline.Uint64() < f.verifier.Now() {
		return ErrExpired
	}
	if !f.verifier.VerifyPrice(a.Token, a.Price, a.Deadline, a.Signature) {
		return ErrInvalidAttestation
	}
	return nil
}

// storeTTL converts the seconds left on a quote into a store expiry within
// [1s, MaxStoreTTL].
func storeTTL(remaining uint64) time.Duration {
	if remaining > uint64(MaxStoreTTL/time.Second) {
		return MaxStoreTTL
	}
	if remaining < 1 {
		return time.Second
	}
	return time.Duration(remaining) * time.Second
}

func resultOf(err error) string {
	if errors.Is(err, ErrExpired) {
		return "expired"
	}
	return "rejected"
}

func (f *Feed) record(result string) {
	if f.metrics != nil {
		f.metrics.PriceAttestations.WithLabelValues(result).Inc()
	}
}
