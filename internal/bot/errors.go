package bot

import "fmt"

// UserError is an expected precondition failure. The dispatcher replies
// with the literal message and does not log it.
type UserError struct {
	Message string
}

func (e *UserError) Error() string { return e.Message }

// Userf builds a UserError.
func Userf(format string, args ...any) error {
	return &UserError{Message: fmt.Sprintf(format, args...)}
}
