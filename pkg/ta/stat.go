package ta

import "math"

// LogReturns 对数收益率序列 ln(c_t / c_{t-1})
// 非正价格的间隔直接跳过
func LogReturns(closes []float64) []float64 {
	if len(closes) < 2 {
		return nil
	}
	returns := make([]float64, 0, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		if closes[i-1] <= 0 || closes[i] <= 0 {
			continue
		}
		returns = append(returns, math.Log(closes[i]/closes[i-1]))
	}
	return returns
}

// Pearson 皮尔逊相关系数，样本不足3个或方差为0时返回 0，结果截断到 [-1, 1]
func Pearson(x, y []float64) float64 {
	n := len(x)
	if len(y) < n {
		n = len(y)
	}
	if n < 3 {
		return 0
	}
	x = x[:n]
	y = y[:n]

	meanX := Mean(x)
	meanY := Mean(y)

	var cov, varX, varY float64
	for i := 0; i < n; i++ {
		dx := x[i] - meanX
		dy := y[i] - meanY
		cov += dx * dy
		varX += dx * dx
		varY += dy * dy
	}
	if varX == 0 || varY == 0 {
		return 0
	}
	rho := cov / math.Sqrt(varX*varY)
	return math.Max(-1, math.Min(1, rho))
}
