package common

type contextKey string

const (
	TraceIdKey          contextKey = "trace_id"
	PrincipalContextKey contextKey = "principal"
	PayloadContextKey   contextKey = "payload"
	LatencyContextKey   contextKey = "__execution_time"
)
