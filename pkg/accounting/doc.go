// Package accounting keeps the per-server resource books: validating a
// request against what is available, and moving quantities between the
// allocated and available columns.
//
// The functions operate on in-memory values. Callers apply them inside a
// ledger.Store Update so a reservation is written together with the pod
// that holds it.
//
// Quantities never go negative. Reserve floors available at zero and
// Release floors allocated at zero; Release does not cap available at
// total, so releasing more than was reserved inflates available. Consistency
// reports such drift instead of correcting it.
package accounting
