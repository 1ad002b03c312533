package sim

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/mrcode/unity-pump/internal/models"
)

// DosePrecision is the number of decimal places a dose is rounded to
const DosePrecision = 1

// ComputeDose converts grams of carbohydrate into insulin units using the
// insulin:carb ratio (grams per unit).
//
// The result is rounded to one decimal place, half away from zero, so
// 0.25 U becomes 0.3 U. ratio must be positive and finite; otherwise a
// *models.DomainError is returned. Negative carbs return models.ErrInvalidInput.
func ComputeDose(carbsGrams int, ratio float64) (float64, error) {
	if carbsGrams < 0 {
		return 0, fmt.Errorf("carbs %d g: %w", carbsGrams, models.ErrInvalidInput)
	}
	if ratio <= 0 || math.IsNaN(ratio) || math.IsInf(ratio, 0) {
		return 0, &models.DomainError{Field: "insulinToCarbRatio", Value: ratio, Want: "> 0"}
	}

	units := decimal.NewFromInt(int64(carbsGrams)).
		Div(decimal.NewFromFloat(ratio)).
		Round(DosePrecision)

	return units.InexactFloat64(), nil
}

// ParseCarbs parses user-entered carbohydrate text.
//
// Empty, non-numeric and negative input is rejected with
// models.ErrInvalidInput rather than coerced to zero. An explicit "0" is valid.
func ParseCarbs(text string) (int, error) {
	trimmed := strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(text), "g"))
	if trimmed == "" {
		return 0, fmt.Errorf("empty carbs: %w", models.ErrInvalidInput)
	}

	grams, err := strconv.Atoi(trimmed)
	if err != nil {
		return 0, fmt.Errorf("carbs %q: %w", text, models.ErrInvalidInput)
	}
	if grams < 0 {
		return 0, fmt.Errorf("carbs %d g: %w", grams, models.ErrInvalidInput)
	}

	return grams, nil
}
