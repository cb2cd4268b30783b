package auth

// Scopes understood by the timer endpoints. timers:write implies timers:read.
const (
	ScopeTimersWrite = "timers:write"
	ScopeTimersRead  = "timers:read"
)

// CanRead reports whether claims may read timers and time entries.
func CanRead(c *Claims) bool {
	return c.HasScope(ScopeTimersRead) || c.HasScope(ScopeTimersWrite)
}

// CanWrite reports whether claims may start, change or stop timers.
func CanWrite(c *Claims) bool {
	return c.HasScope(ScopeTimersWrite)
}
