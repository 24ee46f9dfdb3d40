package ta

import "github.com/markcheno/go-talib"

func Last(s []float64, position int) float64 {
	return s[len(s)-1-position]
}

func LastValues(s []float64, size int) []float64 {
	if l := len(s); l > size {
		return s[l-size:]
	}
	return s
}

// ATR 平均真实波幅，返回最后一个有效值，数据不足时返回 0
func ATR(high, low, close []float64, period int) float64 {
	if len(close) <= period || len(high) != len(close) || len(low) != len(close) {
		return 0
	}
	series := talib.Atr(high, low, close, period)
	if len(series) == 0 {
		return 0
	}
	return Last(series, 0)
}

// TrueRanges 逐根K线的真实波幅序列
func TrueRanges(high, low, close []float64) []float64 {
	n := len(close)
	if n == 0 || len(high) != n || len(low) != n {
		return nil
	}
	ranges := make([]float64, 0, n)
	for i := 0; i < n; i++ {
		tr := high[i] - low[i]
		if i > 0 {
			if hc := abs(high[i] - close[i-1]); hc > tr {
				tr = hc
			}
			if lc := abs(low[i] - close[i-1]); lc > tr {
				tr = lc
			}
		}
		ranges = append(ranges, tr)
	}
	return ranges
}

// Mean 算术平均，空序列返回 0
func Mean(s []float64) float64 {
	if len(s) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range s {
		sum += v
	}
	return sum / float64(len(s))
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
