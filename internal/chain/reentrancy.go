package chain

// ReentrancyGuard rejects nested entry into a guarded call.
//
//	release, err := guard.Enter()
//	if err != nil {
//		return err
//	}
//	defer release()
type ReentrancyGuard struct {
	entered bool
}

func (g *ReentrancyGuard) Enter() (func(), error) {
	if g.entered {
		return nil, ErrReentrantCall
	}
	g.entered = true
	return func() { g.entered = false }, nil
}
