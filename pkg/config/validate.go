package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// validate is a singleton validator instance
var validate = validator.New()

// Validate checks the struct rules first and then the rules that span
// fields, reporting every problem found
func (f *File) Validate() error {
	if err := validate.Struct(f); err != nil {
		return formatValidationError(err)
	}

	var errs []error
	from, to, err := f.Versions()
	if err != nil {
		errs = append(errs, err)
	} else if !to.Newer(from) {
		errs = append(errs, fmt.Errorf("%w: %s to %s", ErrVersionNotNewer, from, to))
	}
	if err := f.checkPorts(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

// checkPorts rejects two members listening on the same host and port
func (f *File) checkPorts() error {
	owner := make(map[string]int)
	var errs []error
	for _, m := range f.Members {
		for _, port := range []int{m.ClusterPort, m.ReplicationPort, m.BackupPort} {
			key := fmt.Sprintf("%s:%d", m.Host, port)
			if id, ok := owner[key]; ok {
				errs = append(errs, fmt.Errorf("%w: %s (members %d and %d)", ErrPortInUse, key, id, m.ID))
				continue
			}
			owner[key] = m.ID
		}
	}
	return errors.Join(errs...)
}

// formatValidationError converts validator errors to one readable error
// naming every failed field
func formatValidationError(err error) error {
	var validationErrs validator.ValidationErrors
	if !errors.As(err, &validationErrs) {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	msgs := make([]string, 0, len(validationErrs))
	for _, e := range validationErrs {
		field := strings.TrimPrefix(e.Namespace(), "File.")
		param := e.Param()

		switch e.Tag() {
		case "required":
			msgs = append(msgs, fmt.Sprintf("%s: field is required", field))
		case "min", "gte":
			msgs = append(msgs, fmt.Sprintf("%s: must be at least %s", field, param))
		case "max", "lte":
			msgs = append(msgs, fmt.Sprintf("%s: must not exceed %s", field, param))
		case "gt", "gtfield":
			msgs = append(msgs, fmt.Sprintf("%s: must be greater than %s", field, param))
		case "unique":
			msgs = append(msgs, fmt.Sprintf("%s: %s values must be unique", field, param))
		case "oneof":
			msgs = append(msgs, fmt.Sprintf("%s: must be one of %s", field, param))
		default:
			msgs = append(msgs, fmt.Sprintf("%s: validation failed (%s)", field, e.Tag()))
		}
	}
	return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(msgs, "; "))
}
