// Package model defines the wire types shared between the bus consumer,
// the relay, and the data layer.
package model

import (
	"encoding/json"
	"fmt"
)

// BusEvent is the envelope carried by every message on the backend event bus.
type BusEvent struct {
	EventType   string          `json:"eventType"`
	AggregateID string          `json:"aggregateId"`
	Data        json.RawMessage `json:"data"`
}

// Domain event types published by the ledger services.
const (
	EventWalletCredited      = "WalletCredited"
	EventWalletDebited       = "WalletDebited"
	EventTransactionRecorded = "TransactionRecorded"
	EventPaymentPending      = "PaymentPending"
	EventPaymentCompleted    = "PaymentCompleted"
	EventPaymentFailed       = "PaymentFailed"
)

// WalletEventData is the payload of WalletCredited/WalletDebited events.
type WalletEventData struct {
	NewBalance float64 `json:"newBalance"`
	Currency   string  `json:"currency"`
}

// TransactionEventData is the payload of TransactionRecorded events.
type TransactionEventData struct {
	WalletID      string  `json:"walletId"`
	TransactionID string  `json:"transactionId"`
	Type          string  `json:"type"` // credit | debit
	Amount        float64 `json:"amount"`
	Description   string  `json:"description"`
}

// PaymentEventData is the payload of Payment* events.
type PaymentEventData struct {
	PaymentID       string          `json:"paymentId"`
	Status          string          `json:"status"` // pending | completed | failed
	FromWalletID    string          `json:"fromWalletId"`
	ToWalletID      string          `json:"toWalletId"`
	GatewayResponse json.RawMessage `json:"gatewayResponse,omitempty"`
}

// Push message types delivered to WebSocket clients.
const (
	PushBalanceUpdate = "balance_update"
	PushTransaction   = "transaction"
	PushPaymentUpdate = "payment_update"
)

// PushMessage is the frame sent to subscribed WebSocket clients.
type PushMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// BalanceUpdate notifies subscribers of a wallet balance change.
type BalanceUpdate struct {
	WalletID  string  `json:"walletId"`
	Balance   float64 `json:"balance"`
	Currency  string  `json:"currency"`
	Timestamp string  `json:"timestamp"`
}

// TransactionNotification notifies subscribers of a recorded transaction.
type TransactionNotification struct {
	TxnID       string  `json:"txnId"`
	Type        string  `json:"type"` // credit | debit
	Amount      float64 `json:"amount"`
	Description string  `json:"description"`
	Timestamp   string  `json:"timestamp"`
}

// PaymentStatusUpdate notifies subscribers of a payment state change.
type PaymentStatusUpdate struct {
	PaymentID       string          `json:"paymentId"`
	Status          string          `json:"status"` // pending | completed | failed
	GatewayResponse json.RawMessage `json:"gatewayResponse,omitempty"`
	Timestamp       string          `json:"timestamp"`
}

// WalletRoom returns the room id carrying events for one wallet.
func WalletRoom(walletID string) string { return fmt.Sprintf("wallet:%s", walletID) }

// PaymentRoom returns the room id carrying events for one payment.
func PaymentRoom(paymentID string) string { return fmt.Sprintf("payment:%s", paymentID) }

// UserRoom returns the room id carrying events for one user.
func UserRoom(userID string) string { return fmt.Sprintf("user:%s", userID) }
