package lending

import "math/big"

var rateFactorBig = new(big.Int).SetUint64(RateFactor)

// CompoundInterest returns the interest accrued on base over the given number
// of days at a per-day rate expressed in parts per RateFactor, compounding
// daily: round(base x (1 + rate/RateFactor)^days) - base. Rounding is to the
// nearest integer, half up.
func CompoundInterest(base, rate, days uint64) uint64 {
	if base == 0 || rate == 0 || days == 0 {
		return 0
	}
	num := new(big.Int).SetUint64(RateFactor + rate)
	num.Exp(num, new(big.Int).SetUint64(days), nil)
	den := new(big.Int).Exp(rateFactorBig, new(big.Int).SetUint64(days), nil)
	total := num.Mul(num, new(big.Int).SetUint64(base))
	total = divRound(total, den)
	return clampUint64(total) - base
}

// SimpleInterest returns round(base x rate x days / RateFactor), the
// non-compounding counterpart of CompoundInterest.
func SimpleInterest(base, rate, days uint64) uint64 {
	if base == 0 || rate == 0 || days == 0 {
		return 0
	}
	product := new(big.Int).SetUint64(base)
	product.Mul(product, new(big.Int).SetUint64(rate))
	product.Mul(product, new(big.Int).SetUint64(days))
	return clampUint64(divRound(product, rateFactorBig))
}

// FinancialRound rounds amount to the nearest multiple of accuracy, half up,
// except that a nonzero amount never rounds to zero: it is floored up to
// exactly one accuracy unit instead. No financial component may be silently
// erased by rounding.
func FinancialRound(amount, accuracy uint64) uint64 {
	if amount == 0 || accuracy == 0 {
		return amount
	}
	rounded := (amount + accuracy/2) / accuracy * accuracy
	if rounded == 0 {
		return accuracy
	}
	return rounded
}

// IsRounded reports whether amount is an exact multiple of accuracy.
// User-supplied repayment and discount amounts must already be rounded so the
// external ledger stays computed in whole accuracy units.
func IsRounded(amount, accuracy uint64) bool {
	if accuracy == 0 {
		return true
	}
	return amount%accuracy == 0
}

// divRound divides a by b rounding to nearest, half up. Both operands must be
// non-negative and b nonzero.
func divRound(a, b *big.Int) *big.Int {
	half := new(big.Int).Rsh(b, 1)
	out := new(big.Int).Add(a, half)
	return out.Quo(out, b)
}

func clampUint64(v *big.Int) uint64 {
	if !v.IsUint64() {
		// Tracked balances are 64-bit on the wire; saturate rather than wrap
		// if a pathological rate/duration pair overflows them.
		return ^uint64(0)
	}
	return v.Uint64()
}
