package market

import "math"

// returnsFromPrices converts an ordered price series into simple returns.
func returnsFromPrices(prices []float64) []float64 {
	if len(prices) < 2 {
		return nil
	}
	out := make([]float64, 0, len(prices)-1)
	for i := 1; i < len(prices); i++ {
		if prices[i-1] == 0 {
			continue
		}
		out = append(out, (prices[i]-prices[i-1])/prices[i-1])
	}
	return out
}

// stdDev computes the sample standard deviation.
func stdDev(values []float64) float64 {
	n := len(values)
	if n < 2 {
		return 0
	}
	mean := 0.0
	for _, v := range values {
		mean += v
	}
	mean /= float64(n)

	variance := 0.0
	for _, v := range values {
		d := v - mean
		variance += d * d
	}
	variance /= float64(n - 1)
	return math.Sqrt(variance)
}

// pearson computes the Pearson correlation coefficient of two equal-length
// series. Returns 0 when either series is degenerate.
func pearson(a, b []float64) float64 {
	n := len(a)
	if n != len(b) || n < 2 {
		return 0
	}

	meanA, meanB := 0.0, 0.0
	for i := 0; i < n; i++ {
		meanA += a[i]
		meanB += b[i]
	}
	meanA /= float64(n)
	meanB /= float64(n)

	var cov, varA, varB float64
	for i := 0; i < n; i++ {
		da := a[i] - meanA
		db := b[i] - meanB
		cov += da * db
		varA += da * da
		varB += db * db
	}
	if varA == 0 || varB == 0 {
		return 0
	}
	return cov / math.Sqrt(varA*varB)
}

// gini computes a concentration coefficient over non-negative shares.
// 0 means perfectly even distribution, 1 means fully concentrated.
func gini(shares []float64) float64 {
	n := len(shares)
	if n < 2 {
		return 0
	}

	total := 0.0
	for _, s := range shares {
		total += s
	}
	if total == 0 {
		return 0
	}

	// Mean absolute difference formulation; n is small here so the
	// quadratic pass is fine.
	var sumDiff float64
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			sumDiff += math.Abs(shares[i] - shares[j])
		}
	}
	mean := total / float64(n)
	return sumDiff / (2 * float64(n) * float64(n) * mean)
}
