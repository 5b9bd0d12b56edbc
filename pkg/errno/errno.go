package errno

import "fmt"

// Errno defines the error code logic
type Errno struct {
	Code    int
	Message string
}

func (e Errno) Error() string {
	return e.Message
}

// WithMessagef returns a copy of the Errno with a formatted message, so
// callers can attach actionable detail (e.g. remaining boost headroom)
// while keeping the code.
func (e Errno) WithMessagef(format string, args ...interface{}) Errno {
	return Errno{Code: e.Code, Message: fmt.Sprintf(format, args...)}
}

// Is makes errors.Is match on the code, ignoring message detail.
func (e Errno) Is(target error) bool {
	t, ok := target.(Errno)
	if !ok {
		if tp, okp := target.(*Errno); okp {
			t = *tp
		} else {
			return false
		}
	}
	return e.Code == t.Code
}

// Decode tries to convert an error to Errno
func Decode(err error) (int, string) {
	if err == nil {
		return OK.Code, OK.Message
	}

	switch typed := err.(type) {
	case *Errno:
		return typed.Code, typed.Message
	case Errno:
		return typed.Code, typed.Message
	default:
		return InternalServerError.Code, err.Error()
	}
}

// Common Errors
var (
	OK                  = Errno{Code: 0, Message: "Success"}
	InternalServerError = Errno{Code: 10001, Message: "Internal server error"}
	ErrBind             = Errno{Code: 10002, Message: "Error occurred while binding the request body to the struct"}
	ErrDatabase         = Errno{Code: 10004, Message: "Database error"}
	ErrNotConfigured    = Errno{Code: 10005, Message: "Component is not configured"}
)

// Business Errors (20000+)
var (
	ErrVaultNotFound       = Errno{Code: 20101, Message: "Vault not found"}
	ErrVaultInactive       = Errno{Code: 20102, Message: "Vault is not active"}
	ErrAmountTooSmall      = Errno{Code: 20103, Message: "Deposit amount is below the vault minimum"}
	ErrDepositNotFound     = Errno{Code: 20201, Message: "Deposit not found"}
	ErrDepositState        = Errno{Code: 20202, Message: "Deposit is not in the expected state"}
	ErrBadFrequency        = Errno{Code: 20203, Message: "Unknown payout frequency"}
	ErrWexelNotFound       = Errno{Code: 20301, Message: "Wexel not found"}
	ErrBoostTargetExceeded = Errno{Code: 20302, Message: "Boost target exceeded"}
	ErrCollateralOpen      = Errno{Code: 20303, Message: "Wexel already has an open collateral position"}
	ErrNoPrice             = Errno{Code: 20401, Message: "No price available"}
	ErrPriceDeviation      = Errno{Code: 20402, Message: "Price sources deviate beyond tolerance"}
	ErrBadPrice            = Errno{Code: 20403, Message: "Price must be positive"}
	ErrIntentNotFound      = Errno{Code: 20501, Message: "Bridge intent not found"}
)
