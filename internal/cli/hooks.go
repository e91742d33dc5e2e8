package cli

import (
	"fmt"
	"slices"
	"time"

	"github.com/soyeahso/meshgate/internal/config"
	"github.com/soyeahso/meshgate/internal/hooks"
	"github.com/soyeahso/meshgate/internal/logging"
)

// buildHooks logs every event and subscribes each configured webhook,
// asynchronously, to the events it names.
func buildHooks(cfg config.HooksConfig, log *logging.Logger) (*hooks.Manager, error) {
	mgr := hooks.NewManager(log)
	logHandler := hooks.LogHandler(log.Sub("events"))
	for _, ev := range hooks.AllEvents {
		mgr.On(ev, "log", logHandler)
	}

	for i, wh := range cfg.Webhooks {
		events := wh.Events
		if len(events) == 0 {
			events = hooks.AllEvents
		}
		for _, ev := range events {
			if !slices.Contains(hooks.AllEvents, ev) {
				return nil, fmt.Errorf("hooks.webhooks.%d: unknown event %q", i, ev)
			}
		}

		handler := hooks.Webhook(hooks.WebhookOptions{
			URL:     wh.URL,
			Token:   wh.Token,
			Timeout: time.Duration(wh.TimeoutSec) * time.Second,
		})
		name := fmt.Sprintf("webhook-%d", i)
		for _, ev := range events {
			mgr.OnAsync(ev, name, handler)
		}
		log.Info().Str("url", wh.URL).Strs("events", events).Msg("webhook registered")
	}
	return mgr, nil
}
