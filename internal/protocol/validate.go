package protocol

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func validatorInstance() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// Validate checks the request shape. It does not reject unknown commands;
// the dispatcher answers those with its own message.
func (r *Request) Validate() error {
	if err := validatorInstance().Struct(r); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s (%s)", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("%w: invalid fields %s", ErrValidation, strings.Join(fields, ", "))
		}
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}

	if strings.ContainsRune(string(r.Command), 0) {
		return fmt.Errorf("%w: command contains NUL", ErrValidation)
	}
	for _, f := range r.Files {
		if strings.ContainsRune(f, 0) {
			return fmt.Errorf("%w: path contains NUL", ErrValidation)
		}
	}
	return nil
}
