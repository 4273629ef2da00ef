// Package validator validates raw reference-service records at the ingestion boundary.
package validator

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	apperrors "github.com/petrsynek/bus-server/internal/errors"
	"github.com/petrsynek/bus-server/pkg/transit"
)

// DelayNormalizer converts a raw delay value. See reference.NormalizeDelay.
type DelayNormalizer func(v any) any

// departureLayouts are the accepted departure-time formats.
var departureLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

// trip is the typed form of a raw record, checked with struct tags.
type trip struct {
	BusType    string `json:"bus-type" validate:"required"`
	Passengers *int64 `json:"passengers" validate:"required,gte=0"`
	Accident   *bool  `json:"accident" validate:"required"`
}

// RecordValidator converts raw records into typed transit records.
// Records that violate the schema are rejected with a ValidationError.
type RecordValidator struct {
	validate  *validator.Validate
	normalize DelayNormalizer
}

// NewRecordValidator creates a new record validator.
func NewRecordValidator(normalize DelayNormalizer) *RecordValidator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})

	return &RecordValidator{
		validate:  v,
		normalize: normalize,
	}
}

// Validate converts the raw record at index into a transit.Record.
// Numbers in raw are expected as json.Number (decoder.UseNumber).
func (v *RecordValidator) Validate(index int, raw map[string]any) (transit.Record, error) {
	var record transit.Record

	passengers, err := toInt64(raw["passengers"])
	if err != nil {
		return record, &apperrors.ValidationError{Index: index, Field: "passengers", Reason: err.Error()}
	}
	accident, err := toBool(raw["accident"])
	if err != nil {
		return record, &apperrors.ValidationError{Index: index, Field: "accident", Reason: err.Error()}
	}
	busType, ok := raw["bus-type"].(string)
	if !ok && raw["bus-type"] != nil {
		return record, &apperrors.ValidationError{Index: index, Field: "bus-type", Reason: fmt.Sprintf("expected string, got %T", raw["bus-type"])}
	}

	t := trip{BusType: busType, Passengers: passengers, Accident: accident}
	if err := v.validate.Struct(t); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			fe := fieldErrs[0]
			return record, &apperrors.ValidationError{Index: index, Field: fe.Field(), Reason: describe(fe)}
		}
		return record, &apperrors.ValidationError{Index: index, Field: "", Reason: err.Error()}
	}

	departure, err := toTime(raw["departure-time"])
	if err != nil {
		return record, &apperrors.ValidationError{Index: index, Field: "departure-time", Reason: err.Error()}
	}

	delay, err := toDelay(v.normalize(raw["delay"]))
	if err != nil {
		return record, &apperrors.ValidationError{Index: index, Field: "delay", Reason: err.Error()}
	}

	record.DepartureTime = departure
	record.BusType = t.BusType
	record.Passengers = *t.Passengers
	record.Accident = *t.Accident
	record.Delay = delay
	return record, nil
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "required field is missing"
	case "gte":
		return fmt.Sprintf("must be >= %s", fe.Param())
	default:
		return fmt.Sprintf("failed %s check", fe.Tag())
	}
}

func toInt64(v any) (*int64, error) {
	switch n := v.(type) {
	case nil:
		return nil, nil
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return &i, nil
		}
		f, err := n.Float64()
		if err != nil || f != math.Trunc(f) {
			return nil, fmt.Errorf("expected integer, got %q", n.String())
		}
		i := int64(f)
		return &i, nil
	case float64:
		if n != math.Trunc(n) {
			return nil, fmt.Errorf("expected integer, got %v", n)
		}
		i := int64(n)
		return &i, nil
	case int64:
		return &n, nil
	case int:
		i := int64(n)
		return &i, nil
	default:
		return nil, fmt.Errorf("expected integer, got %T", v)
	}
}

// toBool accepts a JSON boolean or the integers 0 and 1.
func toBool(v any) (*bool, error) {
	switch b := v.(type) {
	case nil:
		return nil, nil
	case bool:
		return &b, nil
	default:
		i, err := toInt64(v)
		if err != nil || (*i != 0 && *i != 1) {
			return nil, fmt.Errorf("expected boolean, got %v", v)
		}
		out := *i == 1
		return &out, nil
	}
}

func toTime(v any) (*time.Time, error) {
	switch s := v.(type) {
	case nil:
		return nil, nil
	case string:
		for _, layout := range departureLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				// partitions store microseconds
				t = t.UTC().Truncate(time.Microsecond)
				return &t, nil
			}
		}
		return nil, fmt.Errorf("unparseable timestamp %q", s)
	default:
		return nil, fmt.Errorf("expected timestamp string, got %T", v)
	}
}

// toDelay maps a normalized delay onto the typed delay.
// Integers become seconds, strings are kept raw, null means no delay.
func toDelay(v any) (transit.Delay, error) {
	switch d := v.(type) {
	case nil:
		return transit.Delay{}, nil
	case string:
		return transit.RawDelay(d), nil
	case int64:
		return transit.DelayOf(d), nil
	case int:
		return transit.DelayOf(int64(d)), nil
	case json.Number, float64:
		i, err := toInt64(d)
		if err != nil {
			return transit.Delay{}, err
		}
		return transit.DelayOf(*i), nil
	default:
		return transit.Delay{}, fmt.Errorf("unsupported delay type %T", v)
	}
}
