package utils

import (
	"fmt"
	"regexp"
	"strings"
)

// validator.go - валидация входных данных пайплайна фандинг-арбитража.
//
// Назначение:
// Проверка корректности данных до того, как они попадут в сигнальный
// или исполнительный слой - канонический формат символа, разумные
// границы funding rate, объёма и плеча.
//
// Возвращает error с описанием проблемы или nil.

var symbolPattern = regexp.MustCompile(`^[A-Z0-9]+/[A-Z0-9]+:[A-Z0-9]+$`)

// ValidateSymbol проверяет, что символ в каноническом виде BASE/QUOTE:QUOTE,
// например BTC/USDT:USDT.
func ValidateSymbol(symbol string) error {
	if symbol == "" {
		return fmt.Errorf("symbol is empty")
	}
	if !symbolPattern.MatchString(symbol) {
		return fmt.Errorf("symbol %q is not in canonical BASE/QUOTE:QUOTE form", symbol)
	}
	return nil
}

// ValidateFundingRate проверяет, что funding rate находится в разумных
// границах. Ставки за пределами ±5% за 8ч почти всегда означают ошибку
// фида, а не реальную рыночную аномалию.
func ValidateFundingRate(rate float64) error {
	const maxAbsRate = 0.05
	if rate > maxAbsRate || rate < -maxAbsRate {
		return fmt.Errorf("funding rate %v is outside plausible range [-%v, %v]", rate, maxAbsRate, maxAbsRate)
	}
	return nil
}

// ValidateNotional проверяет, что notional положителен и не превышает cap.
func ValidateNotional(notionalUSD, capUSD float64) error {
	if notionalUSD <= 0 {
		return fmt.Errorf("notional must be positive, got %v", notionalUSD)
	}
	if capUSD > 0 && notionalUSD > capUSD {
		return fmt.Errorf("notional %v exceeds cap %v", notionalUSD, capUSD)
	}
	return nil
}

// ValidateLeverage проверяет, что запрошенное плечо не превышает max.
func ValidateLeverage(leverage, maxLeverage float64) error {
	if leverage <= 0 {
		return fmt.Errorf("leverage must be positive, got %v", leverage)
	}
	if maxLeverage > 0 && leverage > maxLeverage {
		return fmt.Errorf("leverage %v exceeds max %v", leverage, maxLeverage)
	}
	return nil
}

// ValidateIdempotencyKey проверяет, что ключ непустой и не содержит
// пробельных символов, которые могли бы его спутать с другим ключом
// при сравнении строк в хранилище.
func ValidateIdempotencyKey(key string) error {
	if key == "" {
		return fmt.Errorf("idempotency key is empty")
	}
	if strings.ContainsAny(key, " \t\n\r") {
		return fmt.Errorf("idempotency key %q contains whitespace", key)
	}
	return nil
}

// ValidateVenueName проверяет непустое имя биржи из разрешённого набора.
func ValidateVenueName(venue string, allowed []string) error {
	if venue == "" {
		return fmt.Errorf("venue name is empty")
	}
	if len(allowed) == 0 {
		return nil
	}
	for _, a := range allowed {
		if a == venue {
			return nil
		}
	}
	return fmt.Errorf("venue %q is not in allowed set %v", venue, allowed)
}

// ValidateAPIKey выполняет базовую проверку API-ключа биржи.
func ValidateAPIKey(key string) error {
	if len(key) < 8 {
		return fmt.Errorf("api key is too short")
	}
	return nil
}
