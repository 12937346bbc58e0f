package tools

import "sync"

// Event names published by the sites registry.
const (
	EventSiteAdded          = "site_added"
	EventSiteDeleted        = "site_deleted"
	EventCurrentSiteChanged = "current_site_changed"
	EventLoggedOut          = "logged_out"
)

// Event carries a site lifecycle notification.
type Event struct {
	Name   string
	SiteID string
}

// EventHandler handles a published event.
type EventHandler func(Event)

// Events is a minimal in-process publish-subscribe emitter.
// Handlers run synchronously on the publishing goroutine.
type Events struct {
	mu       sync.RWMutex
	nextID   int
	handlers map[string]map[int]EventHandler
}

// NewEvents creates an empty event emitter.
func NewEvents() *Events {
	return &Events{handlers: make(map[string]map[int]EventHandler)}
}

// Subscribe registers a handler for an event name.
// Returns an unsubscribe function.
func (e *Events) Subscribe(name string, h EventHandler) func() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.handlers[name] == nil {
		e.handlers[name] = make(map[int]EventHandler)
	}
	id := e.nextID
	e.nextID++
	e.handlers[name][id] = h

	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		delete(e.handlers[name], id)
	}
}

// Publish delivers an event to every subscribed handler.
func (e *Events) Publish(ev Event) {
	e.mu.RLock()
	hs := make([]EventHandler, 0, len(e.handlers[ev.Name]))
	for _, h := range e.handlers[ev.Name] {
		hs = append(hs, h)
	}
	e.mu.RUnlock()

	for _, h := range hs {
		h(ev)
	}
}
