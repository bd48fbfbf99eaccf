// internal/common/errors/handler.go
package errors

// Disposition is what the consumer does with a delivery after its handler failed.
type Disposition int

const (
	// DispositionDeadLetter rejects the delivery without requeue and moves on.
	DispositionDeadLetter Disposition = iota
	// DispositionAbort leaves the delivery unacked and stops the consumer.
	DispositionAbort
)

// ErrorHandler logs handler failures with full context and maps their kind
// to a delivery disposition.
type ErrorHandler struct {
	logger Logger
}

type Logger interface {
	Error(msg string, fields map[string]interface{})
}

func NewErrorHandler(logger Logger) *ErrorHandler {
	return &ErrorHandler{logger: logger}
}

// Handle logs err and decides the disposition. Only invalid input is dropped;
// everything else is left for redelivery.
func (h *ErrorHandler) Handle(source string, err error, fields map[string]interface{}) Disposition {
	kind := KindOf(err)
	code := CodeOf(err)

	logFields := map[string]interface{}{
		"source":        source,
		"error":         err.Error(),
		"errorCode":     string(code),
		"errorKind":     kind.String(),
		"errorCategory": GetErrorCategory(code),
	}
	for k, v := range fields {
		logFields[k] = v
	}
	if stdErr, ok := err.(*StandardError); ok {
		for k, v := range stdErr.Metadata {
			logFields[k] = v
		}
	}
	h.logger.Error("handler failed", logFields)

	if kind == KindInvalid {
		return DispositionDeadLetter
	}
	return DispositionAbort
}
