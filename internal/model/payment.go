package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// DateLayout is the serialized form of a disbursement date.
const DateLayout = "2006-01-02"

// PaymentRecord is one disbursement row returned by the portal for an identifier.
type PaymentRecord struct {
	Identifier       string          `json:"identifier"`
	EntityName       string          `json:"entity_name"`
	DisbursementDate time.Time       `json:"disbursement_date"`
	Amount           decimal.Decimal `json:"amount"`
	Concept          string          `json:"concept,omitempty"`
	SourceEntity     string          `json:"source_entity,omitempty"`
}

// RecordKey uniquely identifies a disbursement across queries.
type RecordKey struct {
	Identifier string
	Date       string
	Amount     string
	Concept    string
}

// Key returns the dedup key of the record. Amounts are compared by value, so
// 100 and 100.00 collapse to the same key.
func (r PaymentRecord) Key() RecordKey {
	return RecordKey{
		Identifier: r.Identifier,
		Date:       r.DisbursementDate.Format(DateLayout),
		Amount:     r.Amount.StringFixed(2),
		Concept:    r.Concept,
	}
}

// DateString returns the disbursement date as YYYY-MM-DD.
func (r PaymentRecord) DateString() string {
	return r.DisbursementDate.Format(DateLayout)
}

// AmountString returns the amount as a plain decimal with two places.
func (r PaymentRecord) AmountString() string {
	return r.Amount.StringFixed(2)
}
