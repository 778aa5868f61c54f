package lifecycle

import "github.com/rs/zerolog"

// Event represents a lifecycle transition or notable occurrence.
// Minimal and stable: name + model name and optional fields via key/values.
type Event struct {
	Name   string
	Model  string
	Fields map[string]any
}

// EventPublisher receives events from controllers and the router.
// Implementations should be lightweight and non-blocking; Publish must not
// panic.
type EventPublisher interface {
	Publish(Event)
}

// noopPublisher is the default; it drops events.
type noopPublisher struct{}

func (noopPublisher) Publish(Event) {}

// LogPublisher writes every event as a structured log line.
type LogPublisher struct {
	Log zerolog.Logger
}

func (p LogPublisher) Publish(e Event) {
	ev := p.Log.Info().Str("event", e.Name).Str("model", e.Model)
	for k, v := range e.Fields {
		ev = ev.Interface(k, v)
	}
	ev.Msg("lifecycle")
}
