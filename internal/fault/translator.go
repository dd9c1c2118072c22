package fault

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/conduit-lang/objgraph/internal/auth"
	"github.com/conduit-lang/objgraph/internal/codec"
	"github.com/conduit-lang/objgraph/internal/orm/store"
	"github.com/conduit-lang/objgraph/internal/orm/validation"
)

// UnclassifiedMessage is all a caller learns about an unclassified failure
const UnclassifiedMessage = "Unclassified error"

// Translator is the single place where errors are classified and redacted.
// It logs every error it sees with full detail.
type Translator struct {
	logger *zap.Logger
}

// NewTranslator creates a translator. A nil logger discards output.
func NewTranslator(logger *zap.Logger) *Translator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Translator{logger: logger}
}

// Translate maps err to an Error. It returns nil for a nil err.
func (t *Translator) Translate(ctx context.Context, err error) *Error {
	if err == nil {
		return nil
	}
	fe := classify(err)

	logFields := []zap.Field{
		zap.String("kind", string(fe.Kind)),
		zap.String("principal", auth.NameOf(auth.PrincipalFrom(ctx))),
		zap.Error(err),
	}
	if fe.Kind == Unclassified {
		t.logger.Error("request failed", logFields...)
	} else {
		t.logger.Info("request rejected", logFields...)
	}
	return fe
}

func classify(err error) *Error {
	var fe *Error
	if errors.As(err, &fe) {
		return fe
	}

	var verrs *validation.Errors
	if errors.As(err, &verrs) {
		out := Wrap(ValidationFailed, "Validation failed", err)
		for _, f := range verrs.Fields {
			out.Failures = append(out.Failures, Failure{
				EntityType: verrs.EntityType,
				EntityID:   verrs.EntityID,
				FieldPath:  f.Field,
				Message:    f.Message,
			})
		}
		return out
	}

	var decodeErr *codec.DecodeError
	if errors.As(err, &decodeErr) {
		out := Wrap(ValidationFailed, "Malformed entity", err)
		out.Failures = []Failure{{
			EntityType: decodeErr.Type,
			EntityID:   decodeErr.ID,
			FieldPath:  decodeErr.Field,
			Message:    decodeErr.Message,
		}}
		return out
	}

	switch {
	case errors.Is(err, store.ErrNotFound):
		return Wrap(NotFound, "Entity not found", err)
	case errors.Is(err, store.ErrOptimisticLockFailed):
		return Wrap(Conflict, "Optimistic locking failed", err)
	case errors.Is(err, auth.ErrAccessDenied):
		return Wrap(Unauthorized, "Access denied", err)
	case errors.Is(err, store.ErrUniqueViolation):
		return Wrap(ValidationFailed, "Unique constraint violated", err)
	case errors.Is(err, store.ErrForeignKeyViolation):
		return Wrap(ValidationFailed, "Referenced entity is missing or still referenced", err)
	case errors.Is(err, store.ErrNotNullViolation), errors.Is(err, store.ErrCheckViolation):
		return Wrap(ValidationFailed, "Constraint violated", err)
	case errors.Is(err, store.ErrUnknownType):
		return Wrap(ValidationFailed, "Unknown entity type", err)
	case errors.Is(err, store.ErrUnknownAssociation):
		return Wrap(ValidationFailed, "Unknown association", err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return Wrap(Unclassified, "Request cancelled", err)
	}
	return Wrap(Unclassified, UnclassifiedMessage, err)
}
