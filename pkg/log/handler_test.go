package log

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"testing"

	scigoErrors "github.com/YuminosukeSato/muygo/pkg/errors"
)

func handleOne(t *testing.T, err error) map[string]interface{} {
	t.Helper()
	var buf bytes.Buffer
	logger := slog.New(WrapByErrFmtHandler(slog.NewJSONHandler(&buf, nil)))
	logger.Error("operation failed", ErrAttr(err))

	var entry map[string]interface{}
	if e := json.Unmarshal(buf.Bytes(), &entry); e != nil {
		t.Fatalf("invalid JSON %q: %v", buf.String(), e)
	}
	return entry
}

func TestErrFmtHandlerConditioning(t *testing.T) {
	err := scigoErrors.Wrap(scigoErrors.NewConditioningError("MuyGPS.PosteriorMean", 7, 3.5e13, "not positive definite"), "regress")
	entry := handleOne(t, err)

	if entry[ErrorCodeKey] != ErrorIllConditioned {
		t.Errorf("error.code = %v, want %s", entry[ErrorCodeKey], ErrorIllConditioned)
	}
	if entry[BatchIndexKey] != 7.0 {
		t.Errorf("gp.batch = %v, want 7", entry[BatchIndexKey])
	}
	if entry[ConditionKey] != 3.5e13 {
		t.Errorf("gp.condition = %v, want 3.5e13", entry[ConditionKey])
	}
}

func TestErrFmtHandlerBackend(t *testing.T) {
	entry := handleOne(t, scigoErrors.NewBackendError("MuyGPS.OptMeanFn", "lapack", "gonum"))

	if entry[ErrorCodeKey] != ErrorBackendMismatch {
		t.Errorf("error.code = %v, want %s", entry[ErrorCodeKey], ErrorBackendMismatch)
	}
	if entry[BackendKey] != "gonum" || entry[RequiredBackendKey] != "lapack" {
		t.Errorf("backend attrs = %v / %v", entry[BackendKey], entry[RequiredBackendKey])
	}
}

func TestErrFmtHandlerPanicStack(t *testing.T) {
	err := scigoErrors.SafeExecute("gp.Regress", func() error {
		var rows []float64
		_ = rows[3]
		return nil
	})
	entry := handleOne(t, err)

	if entry[ErrorCodeKey] != ErrorPanic {
		t.Errorf("error.code = %v, want %s", entry[ErrorCodeKey], ErrorPanic)
	}
	st, _ := entry[StacktraceAttrKey].(string)
	if st == "" {
		t.Error("expected the stack of the recovered panic")
	}
}

func TestErrFmtHandlerPlainError(t *testing.T) {
	entry := handleOne(t, fmt.Errorf("plain"))
	if _, ok := entry[ErrorCodeKey]; ok {
		t.Errorf("unexpected error.code %v for an unclassified error", entry[ErrorCodeKey])
	}
	if entry[ErrAttrKey] != "plain" {
		t.Errorf("error = %v, want plain", entry[ErrAttrKey])
	}
}

func TestErrorCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"dimension", scigoErrors.NewDimensionError("gp.Regress", 2, 3, 1), ErrorDimensionMismatch},
		{"name", scigoErrors.NewHyperparameterNameError("MuyGPS.SetParams", "sigma", []string{"eps"}), ErrorUnknownHyperparameter},
		{"convergence", scigoErrors.NewConvergenceWarning("nelder-mead", 10, "IterationLimit"), ErrorConvergence},
		{"wrapped backend", scigoErrors.Wrap(scigoErrors.NewBackendError("op", "a", "b"), "outer"), ErrorBackendMismatch},
		{"other", fmt.Errorf("x"), ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ErrorCode(tt.err); got != tt.want {
				t.Errorf("ErrorCode() = %q, want %q", got, tt.want)
			}
		})
	}
}
