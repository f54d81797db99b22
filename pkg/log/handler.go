package log

import (
	"context"
	"log/slog"

	"github.com/cockroachdb/errors"

	scigoErrors "github.com/YuminosukeSato/muygo/pkg/errors"
)

// Attribute keys added by ErrFmtHandler for muygo error types.
const (
	// BatchIndexKey is the batch (query) index of an ill-conditioned solve.
	BatchIndexKey = "gp.batch"
	// ConditionKey is the condition number estimate of that solve.
	ConditionKey = "gp.condition"
	// RequiredBackendKey is the backend a model was bound to.
	RequiredBackendKey = "gp.backend_required"
	// HyperparameterKey is the offending hyperparameter name.
	HyperparameterKey = "gp.hyperparameter"
)

// ErrorCode classifies err into one of the Error* attribute values.
// Unrecognized errors yield "".
func ErrorCode(err error) string {
	var (
		condErr    *scigoErrors.ConditioningError
		backendErr *scigoErrors.BackendError
		shapeErr   *scigoErrors.InputShapeError
		dimErr     *scigoErrors.DimensionError
		nameErr    *scigoErrors.HyperparameterNameError
		convErr    *scigoErrors.ConvergenceWarning
		panicErr   *scigoErrors.PanicError
	)
	switch {
	case err == nil:
		return ""
	case scigoErrors.As(err, &condErr):
		return ErrorIllConditioned
	case scigoErrors.As(err, &backendErr):
		return ErrorBackendMismatch
	case scigoErrors.As(err, &shapeErr), scigoErrors.As(err, &dimErr):
		return ErrorDimensionMismatch
	case scigoErrors.As(err, &nameErr):
		return ErrorUnknownHyperparameter
	case scigoErrors.As(err, &convErr):
		return ErrorConvergence
	case scigoErrors.As(err, &panicErr):
		return ErrorPanic
	}
	return ""
}

// ErrFmtHandler is a slog handler that expands the error attribute: the
// cockroachdb/errors stacktrace (or the stack of a recovered panic), the
// error code, and the fields of muygo error types.
type ErrFmtHandler struct {
	handler slog.Handler
}

// WrapByErrFmtHandler wraps handler with ErrFmtHandler.
func WrapByErrFmtHandler(handler slog.Handler) slog.Handler {
	return &ErrFmtHandler{
		handler: handler,
	}
}

func (eh *ErrFmtHandler) Enabled(ctx context.Context, l slog.Level) bool {
	return eh.handler.Enabled(ctx, l)
}

func (eh *ErrFmtHandler) Handle(ctx context.Context, r slog.Record) error {
	var err error
	r.Attrs(func(attr slog.Attr) bool {
		if attr.Key == ErrAttrKey {
			err, _ = attr.Value.Any().(error)
			return false
		}
		return true
	})
	if err != nil {
		r.AddAttrs(errorAttrs(err)...)
	}
	return eh.handler.Handle(ctx, r)
}

func (eh *ErrFmtHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &ErrFmtHandler{handler: eh.handler.WithAttrs(attrs)}
}

func (eh *ErrFmtHandler) WithGroup(g string) slog.Handler {
	return &ErrFmtHandler{handler: eh.handler.WithGroup(g)}
}

func errorAttrs(err error) []slog.Attr {
	var attrs []slog.Attr
	if st := extractStacktrace(err); st != "" {
		attrs = append(attrs, slog.String(StacktraceAttrKey, st))
	}
	if code := ErrorCode(err); code != "" {
		attrs = append(attrs, slog.String(ErrorCodeKey, code))
	}

	var (
		condErr    *scigoErrors.ConditioningError
		backendErr *scigoErrors.BackendError
		nameErr    *scigoErrors.HyperparameterNameError
	)
	switch {
	case scigoErrors.As(err, &condErr):
		attrs = append(attrs,
			slog.Int(BatchIndexKey, condErr.Batch),
			slog.Float64(ConditionKey, condErr.Condition),
		)
	case scigoErrors.As(err, &backendErr):
		attrs = append(attrs,
			slog.String(BackendKey, backendErr.Active),
			slog.String(RequiredBackendKey, backendErr.Want),
		)
	case scigoErrors.As(err, &nameErr):
		attrs = append(attrs, slog.String(HyperparameterKey, nameErr.Name))
	}
	return attrs
}

func extractStacktrace(err error) string {
	var panicErr *scigoErrors.PanicError
	if scigoErrors.As(err, &panicErr) {
		return panicErr.StackTrace
	}
	safeDetails := errors.GetSafeDetails(err).SafeDetails
	if len(safeDetails) > 0 {
		return safeDetails[0]
	}
	return ""
}
