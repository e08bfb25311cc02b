package sql

import (
	libinjection "github.com/corazawaf/libinjection-go"
)

// InjectionCheckResult describes a string literal libinjection flagged.
type InjectionCheckResult struct {
	Label       string // position label, e.g. "literal_2"
	Value       string
	Fingerprint string // libinjection fingerprint of the detected pattern
}

// CheckLiteralForInjection runs libinjection over the contents of a single
// string literal taken from a generated query. Returns nil when clean.
//
// Generated queries legitimately contain literals like 'A', '%JUAN%' or
// '2024-01-01'; a literal that itself parses as SQL (a quote break followed
// by a UNION, a tautology, a comment terminator) indicates the model was
// steered into smuggling a second statement.
func CheckLiteralForInjection(label, value string) *InjectionCheckResult {
	if value == "" {
		return nil
	}
	isSQLi, fingerprint := libinjection.IsSQLi(value)
	if !isSQLi {
		return nil
	}
	return &InjectionCheckResult{
		Label:       label,
		Value:       value,
		Fingerprint: string(fingerprint),
	}
}
