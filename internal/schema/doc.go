// Package schema validates field values against CUE constraints.
//
// A schema document has three top-level entries:
//
//	strict:   bool       // reject fields without a constraint
//	readonly: [...string] // fields clients may not write
//	fields:   { <name>: <constraint>, ... }
//
// The reference record server answers a violated constraint with a
// validation error, which the autosave engine treats as terminal.
package schema
