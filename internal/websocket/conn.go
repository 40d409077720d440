package websocket

// Connection is one live channel to a client process. Handles are unique and
// never reused after the connection is closed.
type Connection interface {
	// ID returns the unique connection handle.
	ID() string
	// Credential returns the token presented at the handshake.
	Credential() string
	// Send queues an encoded frame for delivery. It must not block.
	Send(data []byte) error
	// Close terminates the connection. Calling it more than once is safe.
	Close() error
}

// reasonCloser is implemented by transports that can tell the peer why it is
// being closed.
type reasonCloser interface {
	CloseWithReason(code int, reason string) error
}

func closeConn(conn Connection, code int, reason string) {
	if rc, ok := conn.(reasonCloser); ok {
		_ = rc.CloseWithReason(code, reason)
		return
	}
	_ = conn.Close()
}
