/*
sensitive.go - Sensitive-data screening for program payloads

PURPOSE:
  Program definitions are public-facing configuration; they must never
  carry personal identifiers, bank account tokens, or credentials.
  Payloads containing such markers are rejected at creation time as a
  policy violation, not a generic validation error.

WHAT IT DETECTS:
  - National id-document numbers (7-8 digits with a check letter)
  - IBAN-shaped bank account tokens and long bare digit runs
  - Password-like field names in serialized JSON

REPORTING:
  Only the marker CLASS is reported, never the matched text, so the
  rejection itself cannot leak the sensitive value.
*/
package loyalty

import "regexp"

var sensitiveMarkers = []struct {
	Class   string
	Pattern *regexp.Regexp
}{
	{"id_document", regexp.MustCompile(`\b\d{7,8}[A-HJ-NP-TV-Z]\b`)},
	{"bank_account", regexp.MustCompile(`\b[A-Z]{2}\d{2}[A-Z0-9]{10,30}\b`)},
	{"bank_account", regexp.MustCompile(`\b\d{16,24}\b`)},
	{"credential_field", regexp.MustCompile(`(?i)"(password|passwd|pwd|secret|token|pin)"\s*:`)},
}

// ScanSensitive checks serialized content for sensitive-data markers.
// Returns the marker class and true on the first hit.
func ScanSensitive(payload []byte) (string, bool) {
	for _, m := range sensitiveMarkers {
		if m.Pattern.Match(payload) {
			return m.Class, true
		}
	}
	return "", false
}
