// Package service holds the conversation and delivery logic. It is the only
// writer of the persisted store and reports failures as apperr kinds.
package service

import (
	"context"
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/samber/lo"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"messaging-service/internal/apperr"
	"messaging-service/internal/repositories"
)

const tracerName = "messaging-service/service"

// EventSink receives domain events after a successful write.
type EventSink interface {
	Emit(ctx context.Context, name string, payload any)
}

type nopSink struct{}

func (nopSink) Emit(context.Context, string, any) {}

func sinkOrNop(events EventSink) EventSink {
	if events == nil {
		return nopSink{}
	}
	return events
}

func tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, apperr.KindOf(err).String())
	}
	span.End()
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		return f.Tag.Get("json")
	})
	return v
}

func checkCommand(v *validator.Validate, cmd any) error {
	err := v.Struct(cmd)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return apperr.Validation("invalid request")
	}
	msgs := lo.Map(verrs, func(fe validator.FieldError, _ int) string {
		switch fe.Tag() {
		case "required":
			return fe.Field() + " is required"
		case "max":
			return fe.Field() + " is too long"
		default:
			return fe.Field() + " is invalid"
		}
	})
	return apperr.Validation(strings.Join(msgs, "; "))
}

// translate maps repository sentinels onto the error taxonomy. Anything it does
// not recognise is a storage failure and gets logged with its cause.
func translate(log *zap.Logger, op string, err error) error {
	switch {
	case err == nil:
		return nil
	case apperr.KindOf(err) != apperr.KindUnknown:
		return err
	case errors.Is(err, repositories.ErrMessageNotFound):
		return apperr.NotFound("message not found")
	case errors.Is(err, repositories.ErrGroupNotFound):
		return apperr.NotFound("group not found")
	case errors.Is(err, repositories.ErrJoinRequestNotFound):
		return apperr.NotFound("join request not found")
	case errors.Is(err, repositories.ErrJoinRequestNotPending):
		return apperr.Conflict("join request already processed")
	case errors.Is(err, repositories.ErrDuplicatePendingRequest):
		return apperr.Conflict("join request already pending")
	case errors.Is(err, repositories.ErrDuplicateMembership):
		return apperr.Conflict("user is already a member")
	}
	log.Error("store operation failed", zap.String("op", op), zap.Error(err))
	return apperr.Storage(op, err)
}
