package desktopnotify

import "github.com/deepresearch-mcp/orchestrator/internal/port/notifier"

func init() {
	notifier.Register(providerName, func(config map[string]string) (notifier.Notifier, error) {
		return NewNotifier(nil), nil
	})
}
