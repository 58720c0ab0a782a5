package regmap

import (
	"errors"
	"fmt"
)

var (
	ErrUnknownRegister   = errors.New("unknown register")
	ErrUnknownField      = errors.New("unknown field")
	ErrReadOnlyRegister  = errors.New("register is read-only")
	ErrInvalidFieldValue = errors.New("invalid field value")
	ErrUnknownRawCode    = errors.New("unknown raw code")
	ErrTransport         = errors.New("transport error")
	ErrInvalidTable      = errors.New("invalid register table")
)

// transportError keeps the underlying error reachable through errors.Is/As
// while tagging it with ErrTransport.
func transportError(op string, reg *Register, err error) error {
	return fmt.Errorf("regmap: %s %s (%#02x): %w: %w", op, reg.name, reg.address, ErrTransport, err)
}

func invalidValue(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidFieldValue, fmt.Sprintf(format, args...))
}
