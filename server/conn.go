package server

// connState tracks one client connection. Connections are born reading,
// move to processing once a complete request is buffered, and end
// closed.
type connState uint8

const (
	stateReading connState = iota
	stateProcessing
	stateClosed
)

func (s connState) String() string {
	switch s {
	case stateReading:
		return "reading"
	case stateProcessing:
		return "processing"
	case stateClosed:
		return "closed"
	}
	return "unknown"
}

// conn accumulates request bytes until a complete request is buffered
// or a limit is exceeded. Once the state reaches processing the
// connection is never read again; every connection sends at most one
// response and then closes.
type conn struct {
	fd    int
	buf   []byte
	state connState
}
