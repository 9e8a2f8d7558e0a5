package logging

import (
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// Pipeline operations reported in OperationError and in the "operation" log field.
const (
	OpPredict     = "predict"
	OpSwitchModel = "switch_model"
	OpSaveLog     = "save_log"
)

// OperationError records which pipeline step failed, for which model variant and, when the
// failure belongs to one photo, which view.
type OperationError struct {
	Operation string
	Model     string
	View      string
	RequestID string
	Err       error
}

// Error implements the error interface.
func (e *OperationError) Error() string {
	if e == nil || e.Err == nil {
		return ""
	}
	var scope []string
	for _, kv := range [][2]string{{"model", e.Model}, {"view", e.View}, {"request_id", e.RequestID}} {
		if kv[1] != "" {
			scope = append(scope, kv[0]+"="+kv[1])
		}
	}
	if len(scope) == 0 {
		return fmt.Sprintf("%s: %v", e.Operation, e.Err)
	}
	return fmt.Sprintf("%s (%s): %v", e.Operation, strings.Join(scope, ", "), e.Err)
}

// Unwrap returns the underlying error so errors.Is reaches the errs sentinels.
func (e *OperationError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Fields returns the non-empty scope as zap fields.
func (e *OperationError) Fields() []zap.Field {
	fields := []zap.Field{zap.String("operation", e.Operation)}
	if e.Model != "" {
		fields = append(fields, zap.String("model", e.Model))
	}
	if e.View != "" {
		fields = append(fields, zap.String("view", e.View))
	}
	if e.RequestID != "" {
		fields = append(fields, zap.String("request_id", e.RequestID))
	}
	return fields
}

// WrapOperation attaches scope to err. A nil err stays nil.
//
// Arguments:
//   - err: The failure to annotate.
//   - scope: The operation, model, view and request the failure belongs to; its Err is ignored.
//
// Returns:
//   - error: An *OperationError wrapping err, or nil.
//
// @example
//
//	if err := processor.Process(front, size); err != nil {
//	    return logging.WrapOperation(err, logging.OperationError{Operation: logging.OpPredict, Model: key, View: "front"})
//	}
func WrapOperation(err error, scope OperationError) error {
	if err == nil {
		return nil
	}
	scope.Err = err
	return &scope
}

// OperationFields returns the scope of the outermost OperationError in err's chain, or nil.
func OperationFields(err error) []zap.Field {
	var opErr *OperationError
	if errors.As(err, &opErr) {
		return opErr.Fields()
	}
	return nil
}
