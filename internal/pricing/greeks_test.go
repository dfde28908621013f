package pricing

import "testing"

func TestCallDeltaIsPositiveAndPutDeltaIsNegative(t *testing.T) {
	callG := BlackScholesGreeks(true, 100, 100, 30.0/365.0, 0.03, 0.25)
	putG := BlackScholesGreeks(false, 100, 100, 30.0/365.0, 0.03, 0.25)

	if callG.Delta <= 0 || callG.Delta >= 1 {
		t.Fatalf("call delta out of range: %v", callG.Delta)
	}
	if putG.Delta >= 0 || putG.Delta <= -1 {
		t.Fatalf("put delta out of range: %v", putG.Delta)
	}
}

func TestGreeksZeroAtOrPastExpiry(t *testing.T) {
	g := BlackScholesGreeks(true, 100, 100, 0, 0.03, 0.25)
	if g != (Greeks{}) {
		t.Fatalf("expected zero Greeks at expiry, got %+v", g)
	}
}

func TestGammaAndVegaArePositiveForBothSides(t *testing.T) {
	for _, isCall := range []bool{true, false} {
		g := BlackScholesGreeks(isCall, 100, 95, 45.0/365.0, 0.02, 0.30)
		if g.Gamma <= 0 {
			t.Fatalf("isCall=%v: gamma should be positive, got %v", isCall, g.Gamma)
		}
		if g.Vega <= 0 {
			t.Fatalf("isCall=%v: vega should be positive, got %v", isCall, g.Vega)
		}
	}
}

// TestStrikeFromDeltaRecoversApproximateTargetDelta checks the round trip:
// solving for the strike of a requested delta should itself price back to
// close to that delta.
func TestStrikeFromDeltaRecoversApproximateTargetDelta(t *testing.T) {
	S, r, q, sigma, T := 100.0, 0.03, 0.0, 0.25, 30.0/365.0

	for _, tc := range []struct {
		isCall bool
		target float64
	}{
		{true, 0.30},
		{false, 0.20},
	} {
		K := StrikeFromDelta(S, tc.target, r, q, sigma, T, tc.isCall)
		g := BlackScholesGreeks(tc.isCall, S, K, T, r, sigma)
		got := g.Delta
		if !tc.isCall {
			got = -got
		}
		if diff := got - tc.target; diff > 0.02 || diff < -0.02 {
			t.Fatalf("isCall=%v target=%v: got delta %v from strike %v", tc.isCall, tc.target, got, K)
		}
	}
}

func TestStrikeFromDeltaAtExpiryReturnsSpot(t *testing.T) {
	if got := StrikeFromDelta(100, 0.3, 0.03, 0, 0.25, 0, true); got != 100 {
		t.Fatalf("got %v, want spot 100", got)
	}
}
