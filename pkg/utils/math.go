package utils

import "math"

// math.go - числовые утилиты для расчёта фандинг-арбитража.
//
// Все функции чистые (pure functions), без побочных эффектов -
// это то, что делает ядро пайплайна (сигналы, риск, сайзинг)
// детерминированным и легко тестируемым.

// NormalizeFundingRate приводит funding rate к 8-часовому окну.
//
// Биржи публикуют funding с разным интервалом расчёта (1h, 4h, 8h).
// Чтобы сравнивать ставки между биржами, все приводятся к базису 8h.
//
// Параметры:
//   - rate: funding rate в нативном интервале биржи (доля, не проценты)
//   - intervalHours: интервал расчёта funding на этой бирже
//
// Возвращает:
//   - rate, если intervalHours >= 8
//   - rate * intervalHours/8, если intervalHours < 8
//
// Примеры:
//   - NormalizeFundingRate(0.0025, 8) = 0.0025
//   - NormalizeFundingRate(0.0025, 1) = 0.0025/8 = 0.0003125
func NormalizeFundingRate(rate, intervalHours float64) float64 {
	if intervalHours <= 0 || intervalHours >= 8 {
		return rate
	}
	return rate * (intervalHours / 8.0)
}

// BpsFromRateDiff переводит разницу funding rate (доля) в базисные пункты.
func BpsFromRateDiff(diff float64) float64 {
	return diff * 10000.0
}

// DrawdownPct вычисляет текущую просадку в процентах от пикового эквити.
//
//	drawdown = max(0, (peak - equity) / peak) * 100
//
// Возвращает 0, если peak <= 0 (ещё не было ни одного цикла).
func DrawdownPct(equity, peakEquity float64) float64 {
	if peakEquity <= 0 {
		return 0
	}
	dd := (peakEquity - equity) / peakEquity * 100
	if dd < 0 {
		return 0
	}
	return dd
}

// GrossLeverage расчитывает валовое плечо: суммарный notional / эквити.
func GrossLeverage(grossNotionalUSD, equity float64) float64 {
	if equity <= 0 {
		return 0
	}
	return grossNotionalUSD / equity
}

// RoundToLotSize округляет значение ВНИЗ до ближайшего кратного lotSize.
//
// Используется для округления объёма ордера до минимального шага биржи.
// Округление вниз гарантирует, что мы не превысим доступные средства.
func RoundToLotSize(value, lotSize float64) float64 {
	if lotSize <= 0 {
		return value
	}
	return math.Floor(value/lotSize) * lotSize
}

// RoundToLotSizeUp округляет значение ВВЕРХ до ближайшего кратного lotSize.
// Используется когда нужно гарантировать минимальный объём (например, minQty).
func RoundToLotSizeUp(value, lotSize float64) float64 {
	if lotSize <= 0 {
		return value
	}
	return math.Ceil(value/lotSize) * lotSize
}

// CalculateWeightedAverage вычисляет средневзвешенное значение.
//
// Используется для смешивания компонентов quality score
// (correlation, beta stability, liquidity, ...) с весами, суммирующимися в 1.
func CalculateWeightedAverage(values, weights []float64) float64 {
	if len(values) == 0 || len(values) != len(weights) {
		return 0
	}

	var sumWeighted, sumWeights float64
	for i := range values {
		if weights[i] < 0 {
			continue
		}
		sumWeighted += values[i] * weights[i]
		sumWeights += weights[i]
	}

	if sumWeights == 0 {
		return 0
	}
	return sumWeighted / sumWeights
}

// Abs возвращает абсолютное значение числа.
func Abs(x float64) float64 {
	return math.Abs(x)
}

// Min возвращает минимум из двух чисел.
func Min(a, b float64) float64 {
	return math.Min(a, b)
}

// Max возвращает максимум из двух чисел.
func Max(a, b float64) float64 {
	return math.Max(a, b)
}

// Clamp ограничивает значение диапазоном [min, max].
func Clamp(value, min, max float64) float64 {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}
