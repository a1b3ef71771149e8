package transport

// Emitter is the outbound half of the transport, consumed by components
// that only send intents.
type Emitter interface {
	Emit(event string, payload any) error
}
