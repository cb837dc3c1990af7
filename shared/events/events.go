package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Event types
const (
	TransactionCreated = "transaction.created"
	BalanceUpdated     = "balance.updated"
)

// Stream names
const (
	TransactionEventsStream = "transaction.events"
	AccountEventsStream     = "account.events"
)

// messageField is the stream entry field holding the JSON encoded Event.
const messageField = "event"

// Event is the envelope of every stream entry. After a round trip through
// Redis, Data is generic JSON; use Decode to read it into a payload type.
type Event struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
}

// TransactionCreatedEvent announces a validated, persisted transaction whose
// balance effect has not been applied yet.
type TransactionCreatedEvent struct {
	TransactionID        string          `json:"transactionId"`
	AccountNo            int64           `json:"accountNo"`
	UserID               string          `json:"userId"`
	Type                 string          `json:"type"`
	Amount               decimal.Decimal `json:"amount"`
	DestinationAccountNo *int64          `json:"destinationAccountNo,omitempty"`
}

// BalanceUpdatedEvent reports one account's balance change. A transfer
// produces two, one per side.
type BalanceUpdatedEvent struct {
	TransactionID string          `json:"transactionId"`
	AccountNo     int64           `json:"accountNo"`
	Change        decimal.Decimal `json:"change"`
}

// Decode reads the payload of event into out.
func Decode(event Event, out any) error {
	raw, err := json.Marshal(event.Data)
	if err != nil {
		return fmt.Errorf("failed to re-encode %s payload: %w", event.Type, err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to decode %s payload: %w", event.Type, err)
	}
	return nil
}
