// Package validator sanitizes inbound transaction records before rule
// evaluation. Upstream producers send numbers as strings, omit ids and
// leave null placeholders; sanitizing keeps those quirks out of the
// evaluation path.
package validator

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/fraudlab/riskrules/rules"
)

// numericFields are coerced from string form when possible.
var numericFields = map[string]bool{
	"transaction_amount":       true,
	"transaction_velocity_24h": true,
	"account_age_days":         true,
}

// booleanFields are coerced from string form when possible.
var booleanFields = map[string]bool{
	"is_new_device":    true,
	"country_mismatch": true,
}

// Sanitize returns a cleaned copy of a record plus one message per repair
// it made. The input is never modified. Repairs:
//
//   - nil values are dropped, matching how evaluation treats them
//   - numeric fields sent as strings are parsed
//   - boolean fields sent as strings are parsed
//   - a missing or empty transaction_id gets a generated uuid
//
// Values that cannot be repaired are kept as-is; condition evaluation
// treats them as non-matching rather than failing.
func Sanitize(record rules.Record) (rules.Record, []string) {
	clean := make(rules.Record, len(record))
	var repairs []string

	for field, value := range record {
		if value == nil {
			repairs = append(repairs, fmt.Sprintf("dropped null field %s", field))
			continue
		}

		if s, ok := value.(string); ok {
			switch {
			case numericFields[field]:
				if n, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
					clean[field] = n
					repairs = append(repairs, fmt.Sprintf("coerced %s from string %q to number", field, s))
					continue
				}
				repairs = append(repairs, fmt.Sprintf("field %s holds non-numeric string %q", field, s))
			case booleanFields[field]:
				if b, err := strconv.ParseBool(strings.TrimSpace(s)); err == nil {
					clean[field] = b
					repairs = append(repairs, fmt.Sprintf("coerced %s from string %q to boolean", field, s))
					continue
				}
				repairs = append(repairs, fmt.Sprintf("field %s holds non-boolean string %q", field, s))
			}
		}

		clean[field] = value
	}

	if id, ok := clean["transaction_id"].(string); !ok || id == "" {
		generated := uuid.NewString()
		clean["transaction_id"] = generated
		repairs = append(repairs, fmt.Sprintf("assigned generated transaction_id %s", generated))
	}

	return clean, repairs
}

// SanitizeBatch sanitizes a slice of records. Repair messages are
// prefixed with the record's index.
func SanitizeBatch(records []rules.Record) ([]rules.Record, []string) {
	clean := make([]rules.Record, len(records))
	var repairs []string
	for i, record := range records {
		sanitized, recordRepairs := Sanitize(record)
		clean[i] = sanitized
		for _, msg := range recordRepairs {
			repairs = append(repairs, fmt.Sprintf("record %d: %s", i, msg))
		}
	}
	return clean, repairs
}
