package notifier

import "log/slog"

// LogNotifier writes notifications to the log. It is the fallback when no
// webhook is configured.
type LogNotifier struct {
	Logger *slog.Logger
}

func (n *LogNotifier) Notify(content string) error {
	logger := n.Logger
	if logger == nil {
		logger = slog.Default()
	}

	logger.Info("notification", "content", content)

	return nil
}
