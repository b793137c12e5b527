/*
sequence.go - Human-facing serial numbers

PURPOSE:
  Turns "the last value handed out" into the next serial string. The
  function is pure: reading and advancing the durable counter is done by
  the coordinator inside the creation transaction.

FORMAT:
  prefix + zero-padded counter. Numbers wider than Width are not truncated.

    SerialFormat{Prefix: "PFX-", Width: 4}.Format(1)    -> "PFX-0001"
    SerialFormat{Prefix: "PFX-", Width: 4}.Format(1234) -> "PFX-1234"

COUNTERS:
  Each named sequence ("invoice", "product") is a row in the store's
  sequences table. The coordinator reads it under a write lock, derives the
  next value here, and writes it back before commit, so two concurrent
  creations can never derive the same serial and a rolled-back creation
  never consumes one.

SEE ALSO:
  - coordinator.go: Reserves invoice serials
  - catalog.go: Reserves product codes
*/
package invoicing

import "fmt"

// Sequence names shared by all stores.
const (
	SequenceInvoice = "invoice"
	SequenceProduct = "product"
)

// SerialFormat is the visible format contract of a sequence.
type SerialFormat struct {
	Prefix string
	Width  int
}

var (
	// DefaultInvoiceSerial produces 000-0001, 000-0002, ...
	DefaultInvoiceSerial = SerialFormat{Prefix: "000-", Width: 4}

	// DefaultProductCode produces ITEM-0001, ITEM-0002, ...
	DefaultProductCode = SerialFormat{Prefix: "ITEM-", Width: 4}
)

// Next returns the value following last. A last value of zero means nothing
// has been assigned yet, so the first value is 1.
func (f SerialFormat) Next(last int64) int64 {
	if last < 0 {
		last = 0
	}
	return last + 1
}

// Format renders n with the prefix and zero padding.
func (f SerialFormat) Format(n int64) string {
	width := f.Width
	if width < 0 {
		width = 0
	}
	return fmt.Sprintf("%s%0*d", f.Prefix, width, n)
}

// NextSerial is Next followed by Format.
func (f SerialFormat) NextSerial(last int64) (int64, string) {
	n := f.Next(last)
	return n, f.Format(n)
}
