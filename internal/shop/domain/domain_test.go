package domain

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func money(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestLineTotalExact(t *testing.T) {
	l := OrderLine{ProductID: "p1", Quantity: 3, UnitPrice: money("19.99")}
	assert.True(t, l.LineTotal().Equal(money("59.97")), "got %s", l.LineTotal())
}

func TestSumLines(t *testing.T) {
	o := Order{Lines: []OrderLine{
		{ProductID: "p1", Quantity: 2, UnitPrice: money("0.10")},
		{ProductID: "p2", Quantity: 1, UnitPrice: money("0.20")},
	}}
	// 0.1+0.1+0.2 is exactly 0.40 here, not a float approximation.
	assert.True(t, o.SumLines().Equal(money("0.40")), "got %s", o.SumLines())
}
