package dwc

import "errors"

// Sentinel errors for component operations.
var (
	// ErrNoSharedScope means the process-wide store could not be created.
	// It is fatal and never retried.
	ErrNoSharedScope = errors.New("dwc: no shared scope to publish the store in")

	// Declaration errors. These are raised as panics while a class is being
	// declared, since they describe a broken program rather than a runtime
	// condition.
	ErrDuplicateDeclaration = errors.New("dwc: duplicate declaration")
	ErrInvalidDeclaration   = errors.New("dwc: invalid declaration")
	ErrInvalidComponent     = errors.New("dwc: invalid component")

	// Mount errors.
	ErrSingleInstanceViolation = errors.New("dwc: single instance component already mounted")
	ErrAlreadyMounted          = errors.New("dwc: component already mounted")

	// Gateway errors.
	ErrUnauthorizedAccess = errors.New("dwc: caller is not a registered component")
	ErrInvalidArguments   = errors.New("dwc: invalid method arguments")
)

// IsUnauthorized checks if err is an access violation from the gateway.
func IsUnauthorized(err error) bool {
	return errors.Is(err, ErrUnauthorizedAccess)
}

// IsDeclarationError checks if err describes a malformed class or component
// declaration.
func IsDeclarationError(err error) bool {
	return errors.Is(err, ErrDuplicateDeclaration) ||
		errors.Is(err, ErrInvalidDeclaration) ||
		errors.Is(err, ErrInvalidComponent)
}

// IsMountError checks if err was returned because a component could not be
// mounted.
func IsMountError(err error) bool {
	return errors.Is(err, ErrSingleInstanceViolation) || errors.Is(err, ErrAlreadyMounted)
}

// DeclarationError is the panic value used for declaration errors.
type DeclarationError struct {
	Class  string
	Member string
	Err    error
}

func (e *DeclarationError) Error() string {
	switch {
	case e.Member != "":
		return e.Err.Error() + ": " + e.Class + "." + e.Member
	case e.Class != "":
		return e.Err.Error() + ": " + e.Class
	default:
		return e.Err.Error()
	}
}

func (e *DeclarationError) Unwrap() error {
	return e.Err
}

func declarationPanic(class, member string, err error) {
	panic(&DeclarationError{Class: class, Member: member, Err: err})
}
