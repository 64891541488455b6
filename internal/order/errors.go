package order

import "errors"

var (
	ErrOrderNotFound           = errors.New("order not found")
	ErrValidation              = errors.New("invalid checkout")
	ErrUnresolvedReference     = errors.New("unresolved catalog reference")
	ErrInvalidStatus           = errors.New("unknown order status")
	ErrInvalidStatusTransition = errors.New("invalid order status transition")
	ErrTrackingTokenCollision  = errors.New("tracking token already in use")
	ErrPersistence             = errors.New("order store unavailable")
	ErrPaymentNotApplicable    = errors.New("order does not accept online payment")
)
