package domain

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Job modes
const (
	ModePurchase = "purchase"
	ModeMonitor  = "monitor"
)

// Payload carries the references and knobs of an automation task.
// The queue only validates it; the job handler interprets it.
type Payload struct {
	ProductID    string  `json:"product" validate:"required"`
	Site         string  `json:"site,omitempty"`
	Size         string  `json:"size,omitempty"`
	AccountID    string  `json:"account,omitempty" validate:"required_if=AutoPurchase true"`
	ProxyID      string  `json:"proxy,omitempty"`
	Quantity     int     `json:"quantity,omitempty" validate:"gte=0"`
	MaxPrice     float64 `json:"max_price,omitempty" validate:"gte=0"`
	AutoPurchase bool    `json:"auto_purchase,omitempty"`
	DelayMS      int     `json:"delay_ms,omitempty" validate:"gte=0"`
	RetryBudget  int     `json:"retry_budget,omitempty" validate:"gte=0"`
	Mode         string  `json:"mode,omitempty" validate:"omitempty,oneof=purchase monitor"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// Report fields by their JSON names so callers see what they sent
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks that the payload references what a job needs to run
func (p Payload) Validate() error {
	err := validate.Struct(p)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	out := &ValidationError{}
	for _, fe := range verrs {
		out.Fields = append(out.Fields, FieldError{
			Field:  fe.Field(),
			Reason: describeTag(fe),
		})
	}
	return out
}

func describeTag(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "required_if":
		return "is required when auto_purchase is set"
	case "gte":
		return "must be >= " + fe.Param()
	case "oneof":
		return "must be one of: " + strings.ReplaceAll(fe.Param(), " ", ",")
	default:
		return "failed " + fe.Tag()
	}
}

// Value implements driver.Valuer so the payload is stored as JSONB
func (p Payload) Value() (driver.Value, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner
func (p *Payload) Scan(src any) error {
	switch v := src.(type) {
	case []byte:
		return json.Unmarshal(v, p)
	case string:
		return json.Unmarshal([]byte(v), p)
	case nil:
		*p = Payload{}
		return nil
	default:
		return fmt.Errorf("cannot scan %T into Payload", src)
	}
}
