// Package fields holds the extracted-field model and the pure helpers that
// prepare machine-extracted fields for human review: confidence bucketing,
// semantic grouping, display formatting, and name humanization.
package fields

import (
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"
)

// Type describes how a field's value should be interpreted and rendered.
type Type string

const (
	TypeText     Type = "text"
	TypeDate     Type = "date"
	TypeCurrency Type = "currency"
	TypeNumber   Type = "number"
	TypeEmail    Type = "email"
	TypePhone    Type = "phone"
	TypeAddress  Type = "address"
)

// Field is a single machine-extracted value with its confidence score.
// Name is the machine key and is unique within a document's field set.
// Confidence is always defined; zero means "not found".
type Field struct {
	Name       string  `json:"name"`
	Label      string  `json:"label,omitempty"`
	Value      any     `json:"value"`
	Confidence float64 `json:"confidence"`
	Type       Type    `json:"fieldType"`
}

// Thresholds are the confidence cutoffs used for bucketing. They are policy,
// not business logic: callers supply them (typically from config).
type Thresholds struct {
	High float64
	Low  float64
}

// DefaultThresholds is the display policy used when no override is configured.
var DefaultThresholds = Thresholds{High: 0.8, Low: 0.5}

// Buckets partitions a field set by confidence. Every input field lands in
// exactly one bucket.
type Buckets struct {
	High   []Field `json:"high"`
	Medium []Field `json:"medium"`
	Low    []Field `json:"low"`
}

// CategorizeByConfidence partitions fields into high (>= t.High), medium
// ([t.Low, t.High)), and low (< t.Low) buckets.
func CategorizeByConfidence(fs []Field, t Thresholds) Buckets {
	var b Buckets
	for _, f := range fs {
		switch {
		case f.Confidence >= t.High:
			b.High = append(b.High, f)
		case f.Confidence >= t.Low:
			b.Medium = append(b.Medium, f)
		default:
			b.Low = append(b.Low, f)
		}
	}
	return b
}

// Semantic categories for review grouping.
const (
	CategoryDates     = "Dates"
	CategoryFinancial = "Financial"
	CategoryContact   = "Contact Information"
	CategoryPersonal  = "Personal Information"
	CategoryKeyInfo   = "Key Information"
	CategoryOther     = "Other"
)

// Categories lists all semantic buckets in display order.
var Categories = []string{
	CategoryDates,
	CategoryFinancial,
	CategoryContact,
	CategoryPersonal,
	CategoryKeyInfo,
	CategoryOther,
}

// keyInfoNames and personalNames drive the name-based fallback when the
// field type is generic text. Matched as case-insensitive substrings.
var keyInfoNames = []string{
	"policy", "account", "member", "reference", "confirmation",
	"invoice", "license", "serial", "number", "code", "id",
}

var personalNames = []string{
	"name", "birth", "dob", "ssn", "gender", "age", "holder", "owner",
}

// GroupByCategory assigns each field to exactly one semantic category,
// by field type first and by name heuristics for generic text.
func GroupByCategory(fs []Field) map[string][]Field {
	grouped := make(map[string][]Field)
	for _, f := range fs {
		c := categoryFor(f)
		grouped[c] = append(grouped[c], f)
	}
	return grouped
}

func categoryFor(f Field) string {
	switch f.Type {
	case TypeDate:
		return CategoryDates
	case TypeCurrency, TypeNumber:
		return CategoryFinancial
	case TypeEmail, TypePhone, TypeAddress:
		return CategoryContact
	}

	name := strings.ToLower(f.Name)
	for _, n := range personalNames {
		if strings.Contains(name, n) {
			return CategoryPersonal
		}
	}
	for _, n := range keyInfoNames {
		if strings.Contains(name, n) {
			return CategoryKeyInfo
		}
	}
	return CategoryOther
}

// EmptyValuePlaceholder is rendered for missing values.
const EmptyValuePlaceholder = "—"

// FormatValue renders a field's value for display per its type. Nil values
// render as a placeholder, never an error.
func FormatValue(f Field) string {
	if f.Value == nil {
		return EmptyValuePlaceholder
	}

	switch f.Type {
	case TypeCurrency:
		if n, ok := toFloat(f.Value); ok {
			return "$" + groupThousands(n)
		}
	case TypeDate:
		if s, ok := f.Value.(string); ok {
			if d, err := time.Parse("2006-01-02", s); err == nil {
				return d.Format("Jan 2, 2006")
			}
		}
	case TypeNumber:
		if n, ok := toFloat(f.Value); ok {
			if n == float64(int64(n)) {
				return strconv.FormatInt(int64(n), 10)
			}
			return strconv.FormatFloat(n, 'f', -1, 64)
		}
	}

	s := fmt.Sprintf("%v", f.Value)
	if s == "" {
		return EmptyValuePlaceholder
	}
	return s
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimPrefix(strings.ReplaceAll(n, ",", ""), "$"), 64)
		return f, err == nil
	}
	return 0, false
}

// groupThousands formats n with comma-grouped integer digits and two
// decimal places, e.g. 1234.5 -> "1,234.50".
func groupThousands(n float64) string {
	neg := n < 0
	if neg {
		n = -n
	}
	s := strconv.FormatFloat(n, 'f', 2, 64)
	intPart, fracPart, _ := strings.Cut(s, ".")

	var b strings.Builder
	if neg {
		b.WriteByte('-')
	}
	for i, d := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(d)
	}
	b.WriteByte('.')
	b.WriteString(fracPart)
	return b.String()
}

// HumanizeName turns a machine key like "policyNumber" or "policy_number"
// into a human label ("Policy Number"). Deterministic and safe on empty
// input.
func HumanizeName(name string) string {
	if name == "" {
		return ""
	}

	var words []string
	var cur strings.Builder
	flush := func() {
		if cur.Len() > 0 {
			words = append(words, cur.String())
			cur.Reset()
		}
	}

	runes := []rune(name)
	for i, r := range runes {
		switch {
		case r == '_' || r == '-' || r == ' ':
			flush()
		case unicode.IsUpper(r):
			// Split before a capital, but keep acronym runs together
			// ("taxID" -> "tax ID", not "tax I D").
			if i > 0 && !unicode.IsUpper(runes[i-1]) {
				flush()
			}
			cur.WriteRune(r)
		default:
			cur.WriteRune(r)
		}
	}
	flush()

	for i, w := range words {
		r := []rune(w)
		r[0] = unicode.ToUpper(r[0])
		words[i] = string(r)
	}
	return strings.Join(words, " ")
}
