package order

import (
	"fmt"
	"time"
)

type Status string

const (
	StatusCreated         Status = "created"
	StatusAccepted        Status = "accepted"
	StatusAwaitingPayment Status = "awaiting_payment"
	StatusPaid            Status = "paid"
	StatusPacked          Status = "packed"
	StatusShipped         Status = "shipped"
	StatusArrived         Status = "arrived"
	StatusCompleted       Status = "completed"
	StatusCancelled       Status = "cancelled"
)

func (s Status) String() string {
	return string(s)
}

func (s Status) Valid() bool {
	_, ok := strictTransitions[s]
	return ok
}

// Source identifies what drove a status change.
type Source string

const (
	SourceSystem  Source = "system"
	SourceAdmin   Source = "admin"
	SourceGateway Source = "gateway"
)

// InitialStatus is the status an order is created with.
func InitialStatus(method PaymentMethod) Status {
	if method == PaymentOnlineGateway {
		return StatusAwaitingPayment
	}
	return StatusCreated
}

// strictTransitions is the admin transition table used when strict mode is on.
// awaiting_payment and paid are reachable from the early stages because the
// gateway can settle at any point before packing.
var strictTransitions = map[Status]map[Status]bool{
	StatusCreated: {
		StatusAccepted:        true,
		StatusAwaitingPayment: true,
		StatusCancelled:       true,
	},
	StatusAccepted: {
		StatusAwaitingPayment: true,
		StatusPaid:            true,
		StatusPacked:          true,
		StatusCancelled:       true,
	},
	StatusAwaitingPayment: {
		StatusPaid:      true,
		StatusCancelled: true,
	},
	StatusPaid: {
		StatusAwaitingPayment: true,
		StatusPacked:          true,
		StatusCancelled:       true,
	},
	StatusPacked: {
		StatusShipped:   true,
		StatusCancelled: true,
	},
	StatusShipped: {
		StatusArrived: true,
	},
	StatusArrived: {
		StatusCompleted: true,
	},
	StatusCompleted: {},
	StatusCancelled: {},
}

// TransitionPolicy decides whether a status change is allowed.
type TransitionPolicy func(from, to Status, source Source) error

// PermissivePolicy lets operators set any status, except reopening a finished
// or cancelled order for payment. Gateway callbacks go through the same guard.
func PermissivePolicy(from, to Status, _ Source) error {
	if to == StatusAwaitingPayment && (from == StatusCompleted || from == StatusCancelled) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidStatusTransition, from, to)
	}
	return nil
}

// StrictPolicy applies the transition table to admin changes. Gateway changes
// only get the permissive guard.
func StrictPolicy(from, to Status, source Source) error {
	if err := PermissivePolicy(from, to, source); err != nil {
		return err
	}
	if source == SourceGateway {
		return nil
	}
	if !strictTransitions[from][to] {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidStatusTransition, from, to)
	}
	return nil
}

// Actor is who requested a status change.
type Actor struct {
	Source Source
	Name   string
}

func SystemActor() Actor { return Actor{Source: SourceSystem, Name: "system"} }

func GatewayActor() Actor { return Actor{Source: SourceGateway, Name: "gateway"} }

func OperatorActor(name string) Actor { return Actor{Source: SourceAdmin, Name: name} }

// StatusChange is the old/new pair emitted for every status write.
type StatusChange struct {
	OrderNumber string    `json:"order_number"`
	From        Status    `json:"from"`
	To          Status    `json:"to"`
	Actor       string    `json:"actor"`
	Source      Source    `json:"source"`
	Reason      string    `json:"reason,omitempty"`
	At          time.Time `json:"at"`
}

// Changed is false when the requested status was already set.
func (c StatusChange) Changed() bool {
	return c.From != c.To
}
