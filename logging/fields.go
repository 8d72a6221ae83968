package logging

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// previewLen is how many leading bytes PacketFields shows.
const previewLen = 16

// Helper builds log entries with standardized component and function fields.
type Helper struct {
	fields logrus.Fields
}

// New creates a helper for function within component.
func New(component, function string) *Helper {
	return &Helper{fields: logrus.Fields{
		"component": component,
		"function":  function,
	}}
}

// WithField adds a custom field.
func (h *Helper) WithField(key string, value interface{}) *Helper {
	h.fields[key] = value
	return h
}

// WithFields adds multiple custom fields.
func (h *Helper) WithFields(fields logrus.Fields) *Helper {
	for k, v := range fields {
		h.fields[k] = v
	}
	return h
}

// WithError records err and the operation that produced it.
func (h *Helper) WithError(err error, operation string) *Helper {
	if err != nil {
		h.fields["error"] = err.Error()
	}
	h.fields["operation"] = operation
	return h
}

// Entry returns the logrus entry carrying the collected fields.
func (h *Helper) Entry() *logrus.Entry {
	return logrus.WithFields(h.fields)
}

func (h *Helper) Debug(message string) { h.Entry().Debug(message) }
func (h *Helper) Info(message string)  { h.Entry().Info(message) }
func (h *Helper) Warn(message string)  { h.Entry().Warn(message) }
func (h *Helper) Error(message string) { h.Entry().Error(message) }

// PacketFields describes a datagram for debug logs: its size and a hex
// preview of its first bytes.
func PacketFields(data []byte, name string) logrus.Fields {
	preview := "nil"
	if len(data) > 0 {
		n := min(len(data), previewLen)
		preview = fmt.Sprintf("%x", data[:n])
		if len(data) > n {
			preview += "..."
		}
	}
	return logrus.Fields{
		name + "_preview": preview,
		name + "_size":    len(data),
	}
}

// OperationFields creates the fields of an operation outcome.
func OperationFields(operation, status string, additional ...logrus.Fields) logrus.Fields {
	fields := logrus.Fields{
		"operation": operation,
		"status":    status,
	}
	for _, extra := range additional {
		for k, v := range extra {
			fields[k] = v
		}
	}
	return fields
}
