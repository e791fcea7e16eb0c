package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type OrderID string
type ProductID string
type CustomerID string
type CategoryID string
type UserID string

type Customer struct {
	ID      CustomerID
	Name    string
	Email   string
	Phone   string
	Address string

	CreatedAt time.Time
}

type Category struct {
	ID          CategoryID
	Name        string
	Description string
}

type Product struct {
	ID          ProductID
	Name        string
	Description string
	Price       decimal.Decimal
	Stock       int32
	CategoryID  CategoryID // optional, empty when uncategorized

	CreatedAt time.Time
	UpdatedAt time.Time
}

// OrderLine keeps the unit price captured at reservation time. The snapshot
// never changes after the order is placed, whatever happens to the product.
type OrderLine struct {
	ProductID ProductID
	Quantity  int32
	UnitPrice decimal.Decimal
}

func (l OrderLine) LineTotal() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt32(l.Quantity))
}

type Order struct {
	ID            OrderID
	CustomerID    CustomerID
	Lines         []OrderLine
	TotalAmount   decimal.Decimal
	PaymentStatus PaymentStatus
	GatewayRef    string // payment processor reference, set once paid

	Version   int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// SumLines recomputes the total from the line snapshots. TotalAmount must
// always equal this sum; it is never settable on its own.
func (o *Order) SumLines() decimal.Decimal {
	total := decimal.Zero
	for _, l := range o.Lines {
		total = total.Add(l.LineTotal())
	}
	return total
}

type User struct {
	ID           UserID
	Username     string
	PasswordHash string
	Role         string

	CreatedAt time.Time
}

const (
	RoleCustomer = "customer"
	RoleAdmin    = "admin"
)
