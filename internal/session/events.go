package session

import (
	"github.com/TheCacophonyProject/event-reporter/v3/eventclient"
)

const (
	EventConnected       = "walkingpadConnected"
	EventDisconnected    = "walkingpadDisconnected"
	EventDiscoveryFailed = "walkingpadDiscoveryFailed"
	EventSessionStarted  = "walkingpadSessionStarted"
	EventAutoPause       = "walkingpadAutoPause"
	EventResumeFailed    = "walkingpadResumeFailed"
)

// EventReporter records an event, eventclient.AddEvent in production.
type EventReporter func(eventclient.Event) error

// reportEvent must not be called while holding c.mu.
func (c *Controller) reportEvent(eventType string, details map[string]interface{}) {
	if c.report == nil {
		return
	}
	if details == nil {
		details = map[string]interface{}{}
	}
	c.mu.RLock()
	if c.sessionID != "" {
		details["sessionId"] = c.sessionID
	}
	c.mu.RUnlock()
	err := c.report(eventclient.Event{
		Timestamp: nowFn(),
		Type:      eventType,
		Details:   details,
	})
	if err != nil {
		log.Errorf("Error adding event '%s': %v", eventType, err)
	}
}
