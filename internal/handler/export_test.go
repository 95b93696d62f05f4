package handler

// SetAfterJoin installs a function run between joining a session and binding
// the connection to it.
func (h *Handlers) SetAfterJoin(fn func()) { h.afterJoin = fn }
