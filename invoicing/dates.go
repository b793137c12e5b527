package invoicing

import "time"

// CreditTermDays is how long a credit invoice may stay unpaid.
const CreditTermDays = 30

// DateLayout is the wire and storage format of invoice dates.
const DateLayout = "2006-01-02"

// IssueDate truncates now to its calendar date, in UTC.
func IssueDate(now time.Time) time.Time {
	y, m, d := now.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DueDate is the issue date for cash invoices and CreditTermDays later for
// credit invoices.
func DueDate(t InvoiceType, issued time.Time) time.Time {
	if t == InvoiceCredit {
		return issued.AddDate(0, 0, CreditTermDays)
	}
	return issued
}
