package services

import (
	"errors"
	"fmt"
	"strings"

	domain "github.com/pulsera/api/internal/domain"
	"github.com/pulsera/api/internal/repositories"
)

var (
	// ErrOrderNotFound indicates the order could not be located or the access token did not match.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderInvalidTransition indicates the requested status is not reachable from the current one.
	ErrOrderInvalidTransition = errors.New("order: invalid status transition")
	// ErrOrderAlreadyPaid rejects customer status changes on paid orders.
	ErrOrderAlreadyPaid = errors.New("order: already paid")
	// ErrOrderInvalidInput signals the caller provided invalid data.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderConflict indicates concurrent updates kept winning the status race.
	ErrOrderConflict = errors.New("order: conflict")
	// ErrOrderUnavailable indicates the order store is unavailable.
	ErrOrderUnavailable = errors.New("order: unavailable")

	// ErrCheckoutInvalidInput indicates the caller supplied invalid checkout data.
	ErrCheckoutInvalidInput = errors.New("checkout: invalid input")
	// ErrPriceValidation indicates at least one item could not be priced.
	ErrPriceValidation = errors.New("checkout: price validation failed")
	// ErrCheckoutPaymentFailed indicates the order was stored but the payment preference could not be created.
	ErrCheckoutPaymentFailed = errors.New("checkout: payment preference failed")
	// ErrCheckoutUnavailable indicates checkout dependencies are currently unavailable.
	ErrCheckoutUnavailable = errors.New("checkout: unavailable")
)

// TransitionError carries the statuses reachable from the current one.
type TransitionError struct {
	From  domain.OrderStatus
	To    domain.OrderStatus
	Valid []domain.OrderStatus
}

func (e *TransitionError) Error() string {
	valid := make([]string, 0, len(e.Valid))
	for _, s := range e.Valid {
		valid = append(valid, string(s))
	}
	return fmt.Sprintf("%s: %s -> %s (valid: %s)", ErrOrderInvalidTransition, e.From, e.To, strings.Join(valid, ","))
}

func (e *TransitionError) Unwrap() error {
	return ErrOrderInvalidTransition
}

// PriceValidationError lists the zero based indexes of items that could not be priced.
type PriceValidationError struct {
	InvalidItems []int
}

func (e *PriceValidationError) Error() string {
	return fmt.Sprintf("%s: invalid items %v", ErrPriceValidation, e.InvalidItems)
}

func (e *PriceValidationError) Unwrap() error {
	return ErrPriceValidation
}

// CheckoutPaymentError reports a stored order whose payment preference failed.
type CheckoutPaymentError struct {
	OrderID int64
	Err     error
}

func (e *CheckoutPaymentError) Error() string {
	return fmt.Sprintf("%s: order %d: %v", ErrCheckoutPaymentFailed, e.OrderID, e.Err)
}

func (e *CheckoutPaymentError) Unwrap() []error {
	return []error{ErrCheckoutPaymentFailed, e.Err}
}

func mapOrderRepositoryError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrOrderNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrOrderConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("%w: %v", ErrOrderUnavailable, err)
		}
	}
	return fmt.Errorf("%w: %v", ErrOrderUnavailable, err)
}

func mapCheckoutRepositoryError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) && (repoErr.IsConflict() || repoErr.IsNotFound()) {
		return fmt.Errorf("%w: %v", ErrCheckoutInvalidInput, err)
	}
	return fmt.Errorf("%w: %v", ErrCheckoutUnavailable, err)
}

func isRepoNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}

func isRepoConflict(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsConflict()
}
