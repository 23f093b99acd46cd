package chat

import (
	"fmt"
	"strings"
	"time"
)

// Identity names a user. Non-empty once issued by the authenticator.
type Identity string

// ParseIdentity trims s and rejects the empty result.
func ParseIdentity(s string) (Identity, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", fmt.Errorf("%w: identity is required", ErrValidation)
	}
	return Identity(s), nil
}

// DeliveryState is the lifecycle stage of a message. States only move forward.
type DeliveryState int

const (
	Pending DeliveryState = iota
	Sent
	Delivered
	Read
)

// String returns the string representation of DeliveryState
func (s DeliveryState) String() string {
	switch s {
	case Pending:
		return "PENDING"
	case Sent:
		return "SENT"
	case Delivered:
		return "DELIVERED"
	case Read:
		return "READ"
	default:
		return "UNKNOWN"
	}
}

// Message is a single chat message in either direction.
type Message struct {
	ID            string
	Sender        Identity
	Recipient     Identity
	Content       string
	SentAt        time.Time
	DeliveryState DeliveryState
}

// Peer returns the other party of m from owner's point of view.
func (m Message) Peer(owner Identity) Identity {
	if m.Sender == owner {
		return m.Recipient
	}
	return m.Sender
}
