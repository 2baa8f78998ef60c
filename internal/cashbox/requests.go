package cashbox

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/rapidroute/cashbox/internal/ledger"
	"github.com/rapidroute/cashbox/internal/money"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		tag := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if tag == "" || tag == "-" {
			return f.Name
		}
		return tag
	})
	return v
}

func validateRequest(req any) error {
	err := validate.Struct(req)
	if err == nil {
		return nil
	}
	errs, ok := err.(validator.ValidationErrors)
	if !ok {
		return fmt.Errorf("%w: %v", ledger.ErrInvalidInput, err)
	}
	out := &ValidationError{Fields: map[string]string{}}
	for _, fe := range errs {
		out.Fields[fieldPath(fe.Namespace())] = validationMessage(fe)
	}
	return out
}

// fieldPath drops the request type and the embedded Meta from a validator namespace.
func fieldPath(ns string) string {
	if i := strings.Index(ns, "."); i >= 0 {
		ns = ns[i+1:]
	}
	return strings.TrimPrefix(ns, "Meta.")
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "gt":
		return fmt.Sprintf("must be greater than %s", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "oneof":
		return fmt.Sprintf("must be one of [%s]", fe.Param())
	case "gte":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "numeric":
		return "must be a number"
	case "datetime":
		return "must be an RFC 3339 time"
	}
	return "is invalid"
}

// Money is an amount as entered: USD as a decimal string, LBP as an integer string.
// Empty parts are zero.
type Money struct {
	USD string `json:"usd" validate:"omitempty,numeric"`
	LBP string `json:"lbp" validate:"omitempty,numeric"`
}

func (m Money) parse() (money.Amount, error) {
	a, err := money.Parse(m.USD, m.LBP)
	if err != nil {
		return money.Amount{}, fmt.Errorf("%w: %v", ledger.ErrInvalidAmount, err)
	}
	return a, nil
}

// Meta is carried by every command.
type Meta struct {
	Actor int64 `json:"actor" validate:"required,gt=0"`
	// IdempotencyKey de-duplicates retries of the same command when set.
	IdempotencyKey string `json:"idempotency_key" validate:"omitempty,max=128"`
}

type SetCapitalRequest struct {
	Meta
	Amount Money `json:"amount"`
}

type IncomeRequest struct {
	Meta
	Amount      Money  `json:"amount"`
	Account     string `json:"account" validate:"required,oneof=cash wish"`
	Description string `json:"description" validate:"max=500"`
}

type ExpenseRequest struct {
	Meta
	Amount      Money  `json:"amount"`
	Account     string `json:"account" validate:"required,oneof=cash wish"`
	Category    string `json:"category" validate:"required,max=100"`
	Subcategory string `json:"subcategory" validate:"max=100"`
	Description string `json:"description" validate:"max=500"`
}

type TransferRequest struct {
	Meta
	Amount      Money  `json:"amount"`
	From        string `json:"from" validate:"required,oneof=cash wish"`
	To          string `json:"to" validate:"required,oneof=cash wish"`
	Description string `json:"description" validate:"max=500"`
}

type ClientPaymentRequest struct {
	Meta
	OrderID  int64  `json:"order_id" validate:"gte=0"`
	ClientID int64  `json:"client_id" validate:"required,gt=0"`
	Amount   Money  `json:"amount"`
	Method   string `json:"method" validate:"required,oneof=cash wish"`
}

type DriverMovementRequest struct {
	Meta
	OrderID  int64  `json:"order_id" validate:"gte=0"`
	DriverID int64  `json:"driver_id" validate:"required,gt=0"`
	Amount   Money  `json:"amount"`
	Kind     string `json:"kind" validate:"required,oneof=advance return payout"`
	Account  string `json:"account" validate:"omitempty,oneof=cash wish"`
}

type ThirdPartyPayableRequest struct {
	Meta
	OrderID      int64  `json:"order_id" validate:"gte=0"`
	ThirdPartyID int64  `json:"third_party_id" validate:"required,gt=0"`
	Amount       Money  `json:"amount"`
	Description  string `json:"description" validate:"max=500"`
}

type CreateOrderRequest struct {
	Meta
	Reference      string `json:"reference" validate:"max=64"`
	ClientID       int64  `json:"client_id" validate:"required,gt=0"`
	DriverID       int64  `json:"driver_id" validate:"gte=0"`
	ThirdPartyID   int64  `json:"third_party_id" validate:"gte=0"`
	Type           string `json:"type" validate:"required,oneof=collect delivery_only"`
	DeliveryMethod string `json:"delivery_method" validate:"required,oneof=in_house third_party"`
	PaymentMethod  string `json:"payment_method" validate:"omitempty,oneof=cash wish"`
	PaymentStatus  string `json:"payment_status" validate:"omitempty,oneof=unpaid prepaid"`
	Total          Money  `json:"total"`
	DeliveryFee    Money  `json:"delivery_fee"`
	DriverFee      Money  `json:"driver_fee"`
	ThirdPartyFee  Money  `json:"third_party_fee"`
}

type StatusRequest struct {
	Meta
	OrderID      int64  `json:"order_id" validate:"required,gt=0"`
	To           string `json:"to" validate:"required,oneof=new assigned picked_up in_transit delivered completed cancelled returned"`
	DriverID     int64  `json:"driver_id" validate:"gte=0"`
	ThirdPartyID int64  `json:"third_party_id" validate:"gte=0"`
}

type PaymentStatusRequest struct {
	Meta
	OrderID int64  `json:"order_id" validate:"required,gt=0"`
	To      string `json:"to" validate:"required,oneof=unpaid partial paid prepaid refunded"`
}

type LifecycleRequest struct {
	Meta
	OrderID int64  `json:"order_id" validate:"required,gt=0"`
	Trigger string `json:"trigger" validate:"required,oneof=create delivery paid history"`
}

type CashOutRequest struct {
	Meta
	OrderID int64 `json:"order_id" validate:"required,gt=0"`
}

// EntriesQuery filters entry history. Times are RFC 3339; From is inclusive, To exclusive.
type EntriesQuery struct {
	AccountType string   `json:"account_type" validate:"omitempty,oneof=cash wish client driver third_party"`
	AccountID   int64    `json:"account_id" validate:"gte=0"`
	OrderID     int64    `json:"order_id" validate:"gte=0"`
	CreatedBy   int64    `json:"created_by" validate:"gte=0"`
	Types       []string `json:"types" validate:"dive,required"`
	From        string   `json:"from" validate:"omitempty,datetime=2006-01-02T15:04:05Z07:00"`
	To          string   `json:"to" validate:"omitempty,datetime=2006-01-02T15:04:05Z07:00"`
}
