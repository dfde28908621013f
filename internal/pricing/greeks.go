package pricing

import "math"

// Greeks bundles the first and second order sensitivities used by the
// Greeks-based P&L model (see internal/backtest/pnl). All values are
// per-share; callers multiply by contract multiplier and quantity.
type Greeks struct {
	Delta float64
	Gamma float64
	Theta float64 // per calendar day, already negated for long premium decay
	Vega  float64 // per 1.0 (100 vol points) change in sigma
}

// BlackScholesGreeks computes delta, gamma, theta and vega for a European
// option under Black-Scholes assumptions. Theta is returned per calendar
// day (divided by 365) to match how the simulator accrues daily P&L.
func BlackScholesGreeks(isCall bool, S, K, T, r, sigma float64) Greeks {
	if T <= 0 || sigma <= 0 {
		return Greeks{}
	}

	sqrtT := math.Sqrt(T)
	d1 := (math.Log(S/K) + (r+0.5*sigma*sigma)*T) / (sigma * sqrtT)
	d2 := d1 - sigma*sqrtT

	gamma := normPDF(d1) / (S * sigma * sqrtT)
	vega := S * normPDF(d1) * sqrtT

	var delta, theta float64
	if isCall {
		delta = normCDF(d1)
		theta = (-S*normPDF(d1)*sigma/(2*sqrtT) - r*K*math.Exp(-r*T)*normCDF(d2)) / 365.0
	} else {
		delta = normCDF(d1) - 1
		theta = (-S*normPDF(d1)*sigma/(2*sqrtT) + r*K*math.Exp(-r*T)*normCDF(-d2)) / 365.0
	}

	return Greeks{Delta: delta, Gamma: gamma, Theta: theta, Vega: vega}
}

// StrikeFromDelta inverts the Black-Scholes delta formula to find the
// strike whose option carries the requested (absolute value of) delta.
// targetDelta is expressed as a fraction in [0,1] regardless of option
// side; isCall selects which branch of the delta formula to invert.
func StrikeFromDelta(S, targetDelta, r, q, sigma, T float64, isCall bool) float64 {
	if T <= 0 || sigma <= 0 {
		return S
	}

	delta := targetDelta
	if !isCall {
		delta = -targetDelta
	}

	// Solve N(d1) = delta + (1 for puts, shifting back to call-space)
	nInvArg := delta
	if !isCall {
		nInvArg = delta + 1
	}
	nInvArg = math.Min(math.Max(nInvArg, 1e-6), 1-1e-6)

	d1 := NormInv(nInvArg)
	sqrtT := math.Sqrt(T)

	// invert d1 = (ln(S/K) + (r-q+0.5*sigma^2)*T) / (sigma*sqrtT) for K
	lnSK := d1*sigma*sqrtT - (r-q+0.5*sigma*sigma)*T
	K := S / math.Exp(lnSK)
	return K
}
