package interfaces

// Connection is one live client connection as seen by the registry.
// ARCHITECTURAL DISCOVERY: the registry and router depend only on this
// abstraction, so tests substitute in-memory fakes for WebSocket sockets.
type Connection interface {
	// UserID returns the identity the connection was registered under.
	UserID() string

	// Send enqueues an already-encoded frame for the connection's single
	// writer. It never blocks longer than the connection's enqueue timeout.
	Send(frame []byte) error

	// Close shuts the connection down. Safe to call more than once.
	Close() error

	// Done is closed once the connection has shut down.
	Done() <-chan struct{}
}
