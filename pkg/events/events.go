package events

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Event is a lifecycle notification emitted while driving a node
type Event interface {
	// Name is the dotted bus name, e.g. "cloud.creating"
	Name() string
	// Tag is the orchestrator facing tag, e.g. "cloud/web-01/creating"
	Tag() string
	Message() string
	Data() map[string]any
	ID() string
	Timestamp() time.Time
}

// Handler processes a published event
type Handler func(ctx context.Context, event Event) error

// Bus publishes cloud lifecycle events to subscribers
type Bus interface {
	Publish(ctx context.Context, event Event) error

	// Subscribe registers a handler for a bus name; "*" receives every event
	Subscribe(name string, handler Handler) error

	Close() error

	// Health summarises the bus: published count, subscribers, last error
	Health() Health
}

// Wildcard subscribes to every event
const Wildcard = "*"

// Health represents the health status of a bus
type Health struct {
	Status      string         `json:"status"`
	Message     string         `json:"message"`
	Subscribers int            `json:"subscribers"`
	Published   int            `json:"published"`
	LastError   string         `json:"last_error"`
	Metadata    map[string]any `json:"metadata"`
}

// BusConfig configures a bus
type BusConfig struct {
	// Name of the underlying manager, shows up in debug logs
	Name string `json:"name" mapstructure:"name"`

	// Enabled false turns Publish into a no-op
	Enabled bool `json:"enabled" mapstructure:"enabled"`
}

// DefaultBusConfig returns a default configuration
func DefaultBusConfig() BusConfig {
	return BusConfig{
		Name:    "ddcloud",
		Enabled: true,
	}
}

// CloudEvent is the concrete Event fired by the cloud driver
type CloudEvent struct {
	id        string
	tag       string
	message   string
	data      map[string]any
	timestamp time.Time
}

// NewCloudEvent builds an event for tag "cloud/<name>/<action>"
func NewCloudEvent(tag, message string, data map[string]any) *CloudEvent {
	if data == nil {
		data = make(map[string]any)
	}
	return &CloudEvent{
		id:        uuid.New().String(),
		tag:       tag,
		message:   message,
		data:      data,
		timestamp: time.Now(),
	}
}

// CloudTag renders the tag for a node action
func CloudTag(nodeName, action string) string {
	return "cloud/" + nodeName + "/" + action
}

// Name maps the tag onto a bus name. The node segment is dropped so
// subscribers can listen for an action across all nodes.
func (e *CloudEvent) Name() string {
	parts := strings.Split(e.tag, "/")
	if len(parts) >= 3 {
		return parts[0] + "." + parts[len(parts)-1]
	}
	return strings.ReplaceAll(e.tag, "/", ".")
}

func (e *CloudEvent) Tag() string          { return e.tag }
func (e *CloudEvent) Message() string      { return e.message }
func (e *CloudEvent) Data() map[string]any { return e.data }
func (e *CloudEvent) ID() string           { return e.id }
func (e *CloudEvent) Timestamp() time.Time { return e.timestamp }
