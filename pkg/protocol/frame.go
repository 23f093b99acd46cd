// Package protocol defines the JSON frames exchanged between chat clients and the relay.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrUnknownType is returned by Decode for a frame whose type tag is not recognized.
	ErrUnknownType = errors.New("unknown frame type")
	// ErrMalformed is returned by Decode for unparseable frames or frames missing required fields.
	ErrMalformed = errors.New("malformed frame")
)

// Type is the tag carried in the "type" field of every frame.
type Type string

const (
	TypeJoin        Type = "join"
	TypeMessage     Type = "message"
	TypeTyping      Type = "typing"
	TypeReadReceipt Type = "read_receipt"
	TypeOnlineUsers Type = "online_users"
)

// String returns the wire tag.
func (t Type) String() string {
	return string(t)
}

// Frame is one of Join, Message, Typing, ReadReceipt or OnlineUsers.
type Frame interface {
	Type() Type
}

// Join announces the sender to the relay after the transport opens.
type Join struct {
	User string
}

// Message carries chat content from User to Recipient.
type Message struct {
	ID        string
	User      string
	Recipient string
	Message   string
}

// Typing notifies peers that User is typing.
type Typing struct {
	User string
}

// ReadReceipt is sent by User to acknowledge message ID originally sent by Sender.
type ReadReceipt struct {
	User   string
	Sender string
	ID     string
}

// OnlineUsers is the relay's full presence snapshot.
type OnlineUsers struct {
	Users []string
}

func (Join) Type() Type        { return TypeJoin }
func (Message) Type() Type     { return TypeMessage }
func (Typing) Type() Type      { return TypeTyping }
func (ReadReceipt) Type() Type { return TypeReadReceipt }
func (OnlineUsers) Type() Type { return TypeOnlineUsers }

// envelope is the flat wire shape shared by every frame type.
type envelope struct {
	Type      Type      `json:"type"`
	ID        string    `json:"id,omitempty"`
	User      string    `json:"user,omitempty"`
	Recipient string    `json:"recipient,omitempty"`
	Message   string    `json:"message,omitempty"`
	Sender    string    `json:"sender,omitempty"`
	Users     *[]string `json:"users,omitempty"`
}

// Encode serializes a frame to its JSON wire form.
func Encode(f Frame) ([]byte, error) {
	env, err := toEnvelope(f)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s frame: %w", f.Type(), err)
	}
	return data, nil
}

// Decode parses a JSON frame and dispatches on its type tag.
func Decode(data []byte) (Frame, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return fromEnvelope(env)
}

func toEnvelope(f Frame) (envelope, error) {
	switch f := f.(type) {
	case Join:
		return envelope{Type: TypeJoin, User: f.User}, nil
	case Message:
		return envelope{Type: TypeMessage, ID: f.ID, User: f.User, Recipient: f.Recipient, Message: f.Message}, nil
	case Typing:
		return envelope{Type: TypeTyping, User: f.User}, nil
	case ReadReceipt:
		return envelope{Type: TypeReadReceipt, User: f.User, Sender: f.Sender, ID: f.ID}, nil
	case OnlineUsers:
		users := f.Users
		if users == nil {
			users = []string{}
		}
		return envelope{Type: TypeOnlineUsers, Users: &users}, nil
	default:
		return envelope{}, fmt.Errorf("%w: %T", ErrUnknownType, f)
	}
}

func fromEnvelope(env envelope) (Frame, error) {
	switch env.Type {
	case TypeJoin:
		if env.User == "" {
			return nil, fmt.Errorf("%w: join without user", ErrMalformed)
		}
		return Join{User: env.User}, nil
	case TypeMessage:
		if env.User == "" || env.Recipient == "" {
			return nil, fmt.Errorf("%w: message needs user and recipient", ErrMalformed)
		}
		return Message{ID: env.ID, User: env.User, Recipient: env.Recipient, Message: env.Message}, nil
	case TypeTyping:
		if env.User == "" {
			return nil, fmt.Errorf("%w: typing without user", ErrMalformed)
		}
		return Typing{User: env.User}, nil
	case TypeReadReceipt:
		if env.User == "" || env.Sender == "" {
			return nil, fmt.Errorf("%w: read_receipt needs user and sender", ErrMalformed)
		}
		return ReadReceipt{User: env.User, Sender: env.Sender, ID: env.ID}, nil
	case TypeOnlineUsers:
		if env.Users == nil {
			return nil, fmt.Errorf("%w: online_users without users", ErrMalformed)
		}
		return OnlineUsers{Users: *env.Users}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}
}
