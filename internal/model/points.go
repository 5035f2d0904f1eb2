package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Points хранит количество баллов в сотых долях (100.00 хранится как 10000).
type Points int64

const pointsScale = 2

var maxPoints = decimal.New(1, 15)

// PointsFromInt возвращает целое количество баллов.
func PointsFromInt(v int64) Points {
	return Points(v * 100)
}

// ParsePoints разбирает десятичную строку вида "150.00" в Points.
// Более двух знаков после запятой считаются ошибкой валидации.
func ParsePoints(s string) (Points, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("%w: invalid points value %q", ErrValidation, s)
	}
	return PointsFromDecimal(d)
}

// PointsFromDecimal переводит decimal в Points без потери точности.
func PointsFromDecimal(d decimal.Decimal) (Points, error) {
	if !d.Round(pointsScale).Equal(d) {
		return 0, fmt.Errorf("%w: points value %s has more than %d decimal places", ErrValidation, d, pointsScale)
	}
	if d.Abs().GreaterThanOrEqual(maxPoints) {
		return 0, fmt.Errorf("%w: points value %s is out of range", ErrValidation, d)
	}
	return Points(d.Shift(pointsScale).IntPart()), nil
}

// Decimal возвращает значение как decimal с масштабом 2.
func (p Points) Decimal() decimal.Decimal {
	return decimal.New(int64(p), -pointsScale)
}

func (p Points) String() string {
	return p.Decimal().StringFixed(pointsScale)
}

// MarshalJSON кодирует баллы строкой с двумя знаками после запятой.
func (p Points) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.String())
}

// UnmarshalJSON принимает как строку ("10.50"), так и число (10.5).
func (p *Points) UnmarshalJSON(data []byte) error {
	raw := strings.TrimSpace(string(data))
	if raw == "null" {
		return errors.New("points must not be null")
	}
	if strings.HasPrefix(raw, `"`) {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		raw = s
	}

	v, err := ParsePoints(raw)
	if err != nil {
		return err
	}
	*p = v
	return nil
}
