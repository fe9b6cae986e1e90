package events

// Handlers records a batch of registrations made with OnHandlers so that the
// exact same set can be removed later.
type Handlers map[string]ListenerID

// OnHandlers registers every listener in handlers on b and returns the
// resulting registrations. Pages and components call it while mounting.
func OnHandlers(b Bus, handlers map[string]Listener) Handlers {
	out := make(Handlers, len(handlers))
	for event, fn := range handlers {
		if fn == nil {
			continue
		}
		out[event] = b.On(event, fn)
	}
	return out
}

// OffHandlers removes every registration in hs from b. Calling it twice is
// harmless.
func OffHandlers(b Bus, hs Handlers) {
	for event, id := range hs {
		b.Off(event, id)
	}
}
