package gateway

import "github.com/presence-engine/internal/logging"

// LoggingNotifier is an OperatorNotifier that writes alerts to the structured
// log. Used as the default until a real alert channel is wired in.
type LoggingNotifier struct {
	logger *logging.Logger
}

// NewLoggingNotifier creates a notifier backed by the given logger
func NewLoggingNotifier(logger *logging.Logger) *LoggingNotifier {
	return &LoggingNotifier{logger: logger}
}

// NotifyOperator logs the alert at warn level
func (n *LoggingNotifier) NotifyOperator(message string) {
	n.logger.WithField("alert", true).Warn(message)
}
