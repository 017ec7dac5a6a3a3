package schema

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/inventory-importer/internal/models"
)

var dateLayouts = []string{
	"2006-01-02",
	"1/2/2006",
	"1/2/06",
	time.RFC3339,
	"2006-01-02 15:04:05",
}

// values holds the coerced fields of one row while a record is built
type values struct {
	raw     models.RawRecord
	strings map[string]string
	ints    map[string]int
	cents   map[string]int64
	dates   map[string]Date
	bools   map[string]bool
	errs    map[string]string
}

func newValues(raw models.RawRecord) *values {
	return &values{
		raw:     raw,
		strings: make(map[string]string),
		ints:    make(map[string]int),
		cents:   make(map[string]int64),
		dates:   make(map[string]Date),
		bools:   make(map[string]bool),
		errs:    make(map[string]string),
	}
}

func (v *values) fail(field, msg string) {
	if _, exists := v.errs[field]; !exists {
		v.errs[field] = msg
	}
}

// coerce parses the raw string of f into its kind. Absent optional fields
// are left unset; absent required fields are reported.
func (v *values) coerce(f Field) {
	s := strings.TrimSpace(v.raw[f.Name])
	if s == "" {
		if f.Required {
			v.fail(f.Name, "is required")
		}
		return
	}

	switch f.Kind {
	case KindString, KindEmail:
		v.strings[f.Name] = s
	case KindEnum:
		v.strings[f.Name] = strings.ToLower(s)
	case KindInteger:
		n, err := parseInteger(s)
		if err != nil {
			v.fail(f.Name, err.Error())
			return
		}
		v.ints[f.Name] = n
	case KindMoney:
		c, err := parseCents(s)
		if err != nil {
			v.fail(f.Name, err.Error())
			return
		}
		v.cents[f.Name] = c
	case KindDate:
		d, err := parseDate(s)
		if err != nil {
			v.fail(f.Name, err.Error())
			return
		}
		v.dates[f.Name] = d
	case KindBool:
		b, err := parseBool(s)
		if err != nil {
			v.fail(f.Name, err.Error())
			return
		}
		v.bools[f.Name] = b
	}
}

func (v *values) str(name string) string { return v.strings[name] }

func (v *values) integer(name string) int { return v.ints[name] }

func (v *values) optInt(name string) *int {
	n, ok := v.ints[name]
	if !ok {
		return nil
	}
	return &n
}

func (v *values) money(name string) int64 { return v.cents[name] }

func (v *values) optMoney(name string) *int64 {
	c, ok := v.cents[name]
	if !ok {
		return nil
	}
	return &c
}

func (v *values) date(name string) Date { return v.dates[name] }

func (v *values) optBool(name string) *bool {
	b, ok := v.bools[name]
	if !ok {
		return nil
	}
	return &b
}

// orderedErrors returns failures in schema order, then any others sorted by name
func (v *values) orderedErrors(fields []Field) []FieldError {
	out := make([]FieldError, 0, len(v.errs))
	seen := make(map[string]bool, len(fields))
	for _, f := range fields {
		seen[f.Name] = true
		if msg, ok := v.errs[f.Name]; ok {
			out = append(out, FieldError{Field: f.Name, Message: msg})
		}
	}
	var extra []string
	for name := range v.errs {
		if !seen[name] {
			extra = append(extra, name)
		}
	}
	sort.Strings(extra)
	for _, name := range extra {
		out = append(out, FieldError{Field: name, Message: v.errs[name]})
	}
	return out
}

func normalizeNumber(s string) string {
	s = strings.ReplaceAll(s, ",", "")
	s = strings.ReplaceAll(s, " ", "")
	return s
}

func parseInteger(s string) (int, error) {
	d, err := decimal.NewFromString(normalizeNumber(s))
	if err != nil {
		return 0, fmt.Errorf("must be a number, got %q", s)
	}
	if !d.IsInteger() {
		return 0, fmt.Errorf("must be a whole number, got %q", s)
	}
	if !d.BigInt().IsInt64() {
		return 0, fmt.Errorf("is out of range")
	}
	return int(d.IntPart()), nil
}

// parseCents accepts 12.5, $12.50 and 1,299.00 and returns integer cents.
// Fractions of a cent are rejected.
func parseCents(s string) (int64, error) {
	clean := normalizeNumber(s)
	negative := strings.HasPrefix(clean, "-")
	clean = strings.TrimPrefix(clean, "-")
	clean = strings.TrimPrefix(clean, "$")
	if negative {
		clean = "-" + clean
	}
	d, err := decimal.NewFromString(clean)
	if err != nil {
		return 0, fmt.Errorf("must be a monetary amount, got %q", s)
	}
	cents := d.Shift(2)
	if !cents.IsInteger() {
		return 0, fmt.Errorf("must have at most two decimal places, got %q", s)
	}
	if !cents.BigInt().IsInt64() {
		return 0, fmt.Errorf("is out of range")
	}
	return cents.IntPart(), nil
}

func parseDate(s string) (Date, error) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return Date{Time: t.UTC()}, nil
		}
	}
	return Date{}, fmt.Errorf("must be a date (YYYY-MM-DD or MM/DD/YYYY), got %q", s)
}

func parseBool(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "true", "yes", "y", "1":
		return true, nil
	case "false", "no", "n", "0":
		return false, nil
	}
	return false, fmt.Errorf("must be true or false, got %q", s)
}

// Date is a calendar date serialized as YYYY-MM-DD
type Date struct {
	time.Time
}

// MarshalJSON implements json.Marshaler
func (d Date) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte("null"), nil
	}
	return []byte(`"` + d.Format("2006-01-02") + `"`), nil
}

// UnmarshalJSON implements json.Unmarshaler
func (d *Date) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*d = Date{}
		return nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return err
	}
	d.Time = t
	return nil
}
