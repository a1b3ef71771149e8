package observability

// EventEnvelope wraps telemetry events published to the broker.
type EventEnvelope struct {
	EventType string      `json:"event_type"`
	EventName string      `json:"event_name"`
	Payload   interface{} `json:"payload"`
}

// BuildHeaders assembles AMQP message headers from correlation ids.
func BuildHeaders(sessionID, traceID string) map[string]string {
	headers := map[string]string{}
	if sessionID != "" {
		headers["x-session-id"] = sessionID
	}
	if traceID != "" {
		headers["trace_id"] = traceID
	}
	return headers
}
