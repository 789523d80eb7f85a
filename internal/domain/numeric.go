package domain

import "github.com/shopspring/decimal"

const (
	QuantityPlaces = 3
	MoneyPlaces    = 2
)

var hundred = decimal.NewFromInt(100)

func RoundQty(d decimal.Decimal) decimal.Decimal {
	return d.Round(QuantityPlaces)
}

func RoundMoney(d decimal.Decimal) decimal.Decimal {
	return d.Round(MoneyPlaces)
}

// MarginPercent is the share of the sell price kept as margin, in percent.
func MarginPercent(cost, sell decimal.Decimal) decimal.Decimal {
	if !sell.IsPositive() {
		return decimal.Zero
	}
	return RoundMoney(sell.Sub(cost).Div(sell).Mul(hundred))
}

// PercentOf returns amount * percent / 100 without rounding.
func PercentOf(amount, percent decimal.Decimal) decimal.Decimal {
	return amount.Mul(percent).Div(hundred)
}
