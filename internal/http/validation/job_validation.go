package validation

import (
	"context"
	"errors"
	"go-poll/internal/model"
	"go-poll/internal/model/sqlquery"

	"github.com/go-playground/validator/v10"
	"github.com/robfig/cron/v3"
)

type JobNameLookup interface {
	GetJobByName(ctx context.Context, name string) (model.Job, error)
}

func RegisterJobValidation(validate *validator.Validate, storage JobNameLookup) error {
	err := validate.RegisterValidationCtx("uniqueName", func(ctx context.Context, fl validator.FieldLevel) bool {
		timeoutCtx, cancel := context.WithTimeout(ctx, sqlquery.DatabaseOperationTimeout)
		defer cancel()
		_, err := storage.GetJobByName(timeoutCtx, fl.Field().String())
		return err != nil && errors.Is(err, model.ErrorNotFound)
	})
	if err != nil {
		return err
	}

	err = validate.RegisterValidation("crontabString", func(fl validator.FieldLevel) bool {
		_, err := cron.ParseStandard(fl.Field().String())
		return err == nil
	})
	if err != nil {
		return err
	}

	return validate.RegisterValidation("targets", func(fl validator.FieldLevel) bool {
		targets, ok := fl.Field().Interface().([]string)
		return ok && len(model.NormalizeTargets(targets)) > 0
	})
}
