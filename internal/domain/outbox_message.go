package domain

import "time"

type OutboxStatus string

const (
	OutboxStatusPending OutboxStatus = "PENDING"
	OutboxStatusSent    OutboxStatus = "SENT"
)

// OutboxMessage is an event row written in the same transaction as the
// state change it describes, relayed to the broker by the outbox processor.
type OutboxMessage struct {
	ID         string
	Exchange   string
	RoutingKey string
	Payload    []byte
	Status     OutboxStatus
	CreatedAt  time.Time
	SentAt     *time.Time
}
