package auth

// Scopes understood by the events API.
const (
	ScopeEventsRead  = "events:read"
	ScopeEventsPurge = "events:purge"
)
