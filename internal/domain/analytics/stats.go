package analytics

import "math"

// mean возвращает среднее; для пустого среза - 0.
func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// sampleStd - выборочное стандартное отклонение (делитель n-1); 0 при n <= 1.
func sampleStd(xs []float64) float64 {
	n := len(xs)
	if n <= 1 {
		return 0
	}
	m := mean(xs)
	var ss float64
	for _, x := range xs {
		d := x - m
		ss += d * d
	}
	return math.Sqrt(ss / float64(n-1))
}

// pearson - коэффициент корреляции Пирсона. Неопределённый результат
// (нулевая дисперсия, меньше двух точек) заменяется нулём.
func pearson(xs, ys []float64) float64 {
	n := len(xs)
	if n < 2 || n != len(ys) {
		return 0
	}
	mx, my := mean(xs), mean(ys)
	var cov, vx, vy float64
	for i := 0; i < n; i++ {
		dx, dy := xs[i]-mx, ys[i]-my
		cov += dx * dy
		vx += dx * dx
		vy += dy * dy
	}
	if vx == 0 || vy == 0 {
		return 0
	}
	r := cov / math.Sqrt(vx*vy)
	if math.IsNaN(r) || math.IsInf(r, 0) {
		return 0
	}
	return r
}

// round2 округляет до двух знаков.
func round2(x float64) float64 {
	return math.Round(x*100) / 100
}

func clamp01(x float64) float64 {
	switch {
	case math.IsNaN(x):
		return 0
	case x < 0:
		return 0
	case x > 1:
		return 1
	}
	return x
}
