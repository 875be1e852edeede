package enums

import "fmt"

// TransactionType classifies a balance movement in the ledger.
type TransactionType string

const (
	TransactionTypeDeposit TransactionType = "deposit"
	TransactionTypePayment TransactionType = "payment"
	TransactionTypePayout  TransactionType = "payout"
	TransactionTypeRefund  TransactionType = "refund"
)

var validTransactionTypes = []TransactionType{
	TransactionTypeDeposit,
	TransactionTypePayment,
	TransactionTypePayout,
	TransactionTypeRefund,
}

// String implements fmt.Stringer.
func (t TransactionType) String() string {
	return string(t)
}

// IsValid reports whether the value is a known TransactionType.
func (t TransactionType) IsValid() bool {
	for _, candidate := range validTransactionTypes {
		if candidate == t {
			return true
		}
	}
	return false
}

// ParseTransactionType converts raw input into a TransactionType.
func ParseTransactionType(value string) (TransactionType, error) {
	for _, candidate := range validTransactionTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid transaction type %q", value)
}

// TransactionStatus is recorded on every ledger row. Movements commit
// atomically with their balance updates, so today every persisted row is
// completed; the column exists for forward compatibility with async rails.
type TransactionStatus string

const (
	TransactionStatusCompleted TransactionStatus = "completed"
)

// String implements fmt.Stringer.
func (s TransactionStatus) String() string {
	return string(s)
}

// IsValid reports whether the value is a known TransactionStatus.
func (s TransactionStatus) IsValid() bool {
	return s == TransactionStatusCompleted
}
