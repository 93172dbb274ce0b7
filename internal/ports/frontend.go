package ports

// Frontend is the interface for the serving surface that exposes the trust
// and analysis operations to clients.
type Frontend interface {
	// Start starts serving
	Start() error
	// Stop stops serving
	Stop() error
}
