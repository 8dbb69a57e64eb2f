package raffle

import "math/big"

// credit adds amount to payee's claimable balance. Only settlement calls it.
func (g *Game) credit(payee Address, amount *big.Int) {
	if amount.Sign() == 0 {
		return
	}
	if owed, ok := g.Claimable[payee]; ok {
		g.Claimable[payee] = new(big.Int).Add(owed, amount)
		return
	}
	g.Claimable[payee] = new(big.Int).Set(amount)
}

func (g *Game) owed(payee Address) *big.Int {
	if owed, ok := g.Claimable[payee]; ok {
		return new(big.Int).Set(owed)
	}
	return new(big.Int)
}

// take zeroes payee's balance and returns what was owed.
func (g *Game) take(payee Address) *big.Int {
	owed := g.owed(payee)
	if owed.Sign() > 0 {
		g.Claimable[payee] = new(big.Int)
	}
	return owed
}

// restore puts back a balance taken by a claim whose transfer failed.
func (g *Game) restore(payee Address, amount *big.Int) {
	g.Claimable[payee] = new(big.Int).Add(g.owed(payee), amount)
}
