package services

import (
	"errors"
	"fmt"

	"github.com/YunomiXavia/beQuanTri/internal/repositories"
)

var (
	// ErrInvalidQuantity signals a non-positive quantity or a removal larger than the cart line.
	ErrInvalidQuantity = errors.New("order: invalid quantity")
	// ErrOutOfStock indicates the requested quantity exceeds the available stock.
	ErrOutOfStock = errors.New("order: out of stock")
	// ErrCartEmpty indicates checkout was attempted without cart lines.
	ErrCartEmpty = errors.New("cart: empty")
	// ErrProductNotFoundInCart indicates the cart holds no line for the product.
	ErrProductNotFoundInCart = errors.New("cart: product not found in cart")
	// ErrInvalidReferralCode indicates no collaborator owns the referral code.
	ErrInvalidReferralCode = errors.New("collaborator: invalid referral code")
	// ErrNoAvailableCollaborator indicates the load balancer has nobody to assign.
	ErrNoAvailableCollaborator = errors.New("collaborator: no available collaborator")
	// ErrCommissionNotFound indicates the order has no commission record.
	ErrCommissionNotFound = errors.New("commission: not found")
	// ErrInvalidStatus indicates the order cannot move to the requested status.
	ErrInvalidStatus = errors.New("order: invalid status")
	// ErrCancelTimeLimitExceeded indicates an in-progress order is too old to cancel.
	ErrCancelTimeLimitExceeded = errors.New("order: cancel time limit exceeded")
	// ErrUnauthorized indicates the caller may not perform the operation.
	ErrUnauthorized = errors.New("auth: unauthorized")
	// ErrOrderNotFound indicates the order could not be located.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrProductNotFound indicates the product could not be located.
	ErrProductNotFound = errors.New("product: not found")
	// ErrCollaboratorNotFound indicates the collaborator could not be located.
	ErrCollaboratorNotFound = errors.New("collaborator: not found")
	// ErrUserNotFound indicates the customer profile could not be located.
	ErrUserNotFound = errors.New("user: not found")
	// ErrSurveyNotFound indicates the survey could not be located.
	ErrSurveyNotFound = errors.New("survey: not found")

	// ErrInvalidInput signals malformed arguments.
	ErrInvalidInput = errors.New("invalid input")
	// ErrInvalidCustomer indicates an anonymous order without complete contact details.
	ErrInvalidCustomer = errors.New("order: customer name, email and phone are required")
	// ErrConflict indicates a duplicate or concurrent write.
	ErrConflict = errors.New("conflict")
	// ErrCollaboratorConflict indicates the user or referral code is already registered.
	ErrCollaboratorConflict = errors.New("collaborator: conflict")
	// ErrUnavailable indicates the backing store is temporarily unavailable.
	ErrUnavailable = errors.New("repository unavailable")
)

// mapRepositoryError translates persistence failures into service sentinels. notFound is
// the sentinel used for missing records; nil keeps the original error.
func mapRepositoryError(err error, notFound error) error {
	if err == nil {
		return nil
	}

	var stockErr *repositories.StockError
	if errors.As(err, &stockErr) {
		switch stockErr.Code {
		case repositories.StockErrorInsufficient:
			return fmt.Errorf("%w: product %s has %d, requested %d", ErrOutOfStock, stockErr.ProductID, stockErr.Available, stockErr.Requested)
		case repositories.StockErrorProductNotFound:
			return fmt.Errorf("%w: %s", ErrProductNotFound, stockErr.ProductID)
		}
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound() && notFound != nil:
			return fmt.Errorf("%w: %v", notFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
	}

	return err
}
