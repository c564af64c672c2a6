package domain

import "time"

// Operation represents a sync operation row for worker processing
type Operation struct {
	OperationID     string
	IdempotencyKey  string
	OperationType   string
	EntityID        string
	Payload         string // JSON string
	ClientCreatedAt time.Time
	Status          string
	Attempts        int
}

// OperationMessage represents an operation message from RabbitMQ
type OperationMessage struct {
	OperationID string `json:"operation_id"`
	DeliveryTag uint64 `json:"-"`
}
