package service

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/mtlprog/humantask/internal/domain"
)

// validate is a singleton validator instance.
var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// singleline rejects CR and LF, which would break into mail headers.
	_ = v.RegisterValidation("singleline", func(fl validator.FieldLevel) bool {
		return !strings.ContainsAny(fl.Field().String(), "\r\n")
	})
	return v
}

// ValidateTaskConfig checks a defaulted TaskConfig once, at the boundary, so
// business logic never sees a malformed configuration.
func ValidateTaskConfig(cfg TaskConfig) error {
	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return fmt.Errorf("%w: %w", domain.ErrValidation, err)
		}
		msgs := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			msgs = append(msgs, formatValidationError(fe))
		}
		err = fmt.Errorf("%w: %s", domain.ErrValidation, strings.Join(msgs, "; "))
		if hasField(verrs, "Priority") {
			err = fmt.Errorf("%w: %w", domain.ErrInvalidPriority, err)
		}
		return err
	}

	if cfg.DueInHours != nil && cfg.DueInDays != nil {
		return fmt.Errorf("%w: dueInHours and dueInDays are mutually exclusive", domain.ErrValidation)
	}
	if cfg.AssignTo == "" && cfg.AssigneeType != domain.AssigneeUser {
		return fmt.Errorf("%w: assigneeType %s requires assignTo", domain.ErrValidation, cfg.AssigneeType)
	}
	if cfg.Escalation != nil && strings.TrimSpace(cfg.Escalation.EscalateTo) == "" {
		return fmt.Errorf("%w: escalationConfig.escalateTo is required for task type %q", domain.ErrValidation, cfg.TaskType)
	}
	return nil
}

func formatValidationError(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fe.Field())
	case "min", "max", "gte":
		return fmt.Sprintf("%s must satisfy %s=%s", fe.Field(), fe.Tag(), fe.Param())
	case "singleline":
		return fmt.Sprintf("%s must not contain line breaks", fe.Field())
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s]", fe.Field(), fe.Param())
	default:
		return fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag())
	}
}

func hasField(verrs validator.ValidationErrors, field string) bool {
	for _, fe := range verrs {
		if fe.Field() == field {
			return true
		}
	}
	return false
}
