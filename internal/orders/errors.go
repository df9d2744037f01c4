package orders

import (
	"errors"

	"github.com/ariefcatur/garments-tracker/internal/inventory"
)

var (
	ErrOrderNotFound       = errors.New("order not found")
	ErrInvalidInput        = errors.New("invalid input")
	ErrInvalidTransition   = errors.New("invalid status transition")
	ErrUpstreamUnavailable = errors.New("payment gateway unavailable")

	// ErrDuplicateTransaction is raised by stores when the transaction id
	// unique constraint rejects an insert. The engine absorbs it.
	ErrDuplicateTransaction = errors.New("order already exists for transaction")

	// ErrProductNotFound is re-exported so callers can match one package.
	ErrProductNotFound = inventory.ErrProductNotFound
)

// IsNotFound reports whether err is an order or product NotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrOrderNotFound) || errors.Is(err, ErrProductNotFound)
}
