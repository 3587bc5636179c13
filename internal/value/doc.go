// Package value gives field values a canonical byte form.
//
// Field values arrive from UI widgets and from JSON-decoded server
// responses, so the same logical value can show up as int 5, float64 5 or
// json.Number("5"), and the same text can be composed or decomposed
// Unicode. Canonical encoding removes those differences so the engine can
// tell whether a pending value is already what the backend holds.
//
// Canonical form:
//   - object keys sorted by UTF-16 code units
//   - strings NFC-normalized, no HTML escaping
//   - integral numbers within ±2^53 rendered as integers, other numbers in
//     shortest 'g' form; NaN and infinities are rejected
//   - null is allowed (a cleared field)
package value
