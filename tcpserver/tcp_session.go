package tcpserver

// TCPServerSession is implemented by each connection session. The server
// creates one per admitted connection and runs Handle in its own goroutine;
// when Handle returns the server releases the admission slot.
type TCPServerSession interface {
	// ID returns the session's unique identifier assigned by the server.
	ID() uint32

	// Handle runs the session until the connection ends. The session must
	// close its connection before returning.
	Handle()

	// Close closes the connection, making a blocked Handle return. It must be
	// safe to call multiple times and concurrently with Handle.
	//
	// Returns:
	//   - An error if closing failed
	Close() error

	// SendLine writes one framed line to the connection. Implementations must
	// be safe for concurrent use.
	//
	// Parameters:
	//   - text: The line, without terminator
	//
	// Returns:
	//   - An error if the write failed
	SendLine(text string) error
}
