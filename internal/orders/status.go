package orders

import "fmt"

type Status string

const (
	StatusPending   Status = "PENDING"
	StatusConfirmed Status = "CONFIRMED"
	StatusPreparing Status = "PREPARING"
	StatusReady     Status = "READY"
	StatusDelivered Status = "DELIVERED"
	StatusCancelled Status = "CANCELLED"
	StatusPaid      Status = "PAID"
)

// PAID is reached from any non-terminal status when the session's bill
// is settled; it is listed per status so CanTransition stays a lookup.
var validNext = map[Status]map[Status]bool{
	StatusPending:   {StatusConfirmed: true, StatusPreparing: true, StatusCancelled: true, StatusPaid: true},
	StatusConfirmed: {StatusPreparing: true, StatusCancelled: true, StatusPaid: true},
	StatusPreparing: {StatusReady: true, StatusCancelled: true, StatusPaid: true},
	StatusReady:     {StatusDelivered: true, StatusPaid: true},
	StatusDelivered: {StatusPaid: true},
	StatusCancelled: {},
	StatusPaid:      {},
}

func CanTransition(from, to Status) bool {
	return validNext[from][to]
}

func (s Status) Valid() bool {
	_, ok := validNext[s]
	return ok
}

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s.Valid() && len(validNext[s]) == 0
}

// Editable reports whether items may still be removed from an order in
// this status. Kitchen work starts at PREPARING.
func (s Status) Editable() bool {
	return s == StatusPending || s == StatusConfirmed
}

func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if !st.Valid() {
		return "", fmt.Errorf("unknown order status %q", s)
	}
	return st, nil
}

// TransitionError is returned when a staff action asks for a move the
// transition table does not allow.
type TransitionError struct {
	From, To Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("order cannot move from %s to %s", e.From, e.To)
}

func CheckTransition(from, to Status) error {
	if !CanTransition(from, to) {
		return &TransitionError{From: from, To: to}
	}
	return nil
}
