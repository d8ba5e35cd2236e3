package state

import (
	"CoverLedger/internal/chain"
	fpmath "CoverLedger/internal/math"

	"github.com/holiman/uint256"
)

var (
	ErrEmptyPoolName = chain.Revert("empty underwriting pool name")
)

// poolBook is the underwriting-pool arena shared by both coverage data
// provider versions: name -> balance plus a 1-based index <-> name bijection.
type poolBook struct {
	env      *chain.Env
	names    *chain.Enumerable[string]
	balances map[string]uint256.Int
}

func newPoolBook(env *chain.Env) *poolBook {
	return &poolBook{
		env:      env,
		names:    chain.NewEnumerable[string](env.Journal),
		balances: make(map[string]uint256.Int),
	}
}

func (p *poolBook) set(name string, amount *uint256.Int) error {
	if name == "" {
		return ErrEmptyPoolName
	}
	prev := p.balances[name]
	total := p.maxCover()
	total.Sub(total, &prev)
	if _, err := fpmath.Add(total, amount); err != nil {
		return err
	}
	p.names.Add(name)
	chain.MapSet(p.env.Journal, p.balances, name, *fpmath.Clone(amount))
	return nil
}

// remove reports whether name existed.
func (p *poolBook) remove(name string) bool {
	if p.names.Len() == 0 || !p.names.Contains(name) {
		return false
	}
	p.names.Remove(name)
	chain.MapDelete(p.env.Journal, p.balances, name)
	return true
}

// wipe deletes every pool, highest index first.
func (p *poolBook) wipe() []string {
	removed := make([]string, 0, p.names.Len())
	for i := p.names.Len(); i > 0; i-- {
		name, _ := p.names.At(i)
		p.remove(name)
		removed = append(removed, name)
	}
	return removed
}

func (p *poolBook) maxCover() *uint256.Int {
	total := fpmath.Zero()
	for i := p.names.Len(); i > 0; i-- {
		name, _ := p.names.At(i)
		bal := p.balances[name]
		total.Add(total, &bal)
	}
	return total
}

func (p *poolBook) balanceOf(name string) *uint256.Int {
	v := p.balances[name]
	return fpmath.Clone(&v)
}

func (p *poolBook) poolOf(index int) string {
	name, _ := p.names.At(index)
	return name
}

func (p *poolBook) appendState(b []byte) []byte {
	b = chain.AppendUint64(b, uint64(p.names.Len()))
	for i := 1; i <= p.names.Len(); i++ {
		name, _ := p.names.At(i)
		bal := p.balances[name]
		b = chain.AppendString(b, name)
		b = chain.AppendWord(b, &bal)
	}
	return b
}
