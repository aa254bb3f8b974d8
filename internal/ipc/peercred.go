package ipc

// PeerCred identifies the process on the other end of a connection. It is
// informational only; connections are not rejected based on it.
type PeerCred struct {
	PID   int32
	UID   uint32
	Known bool
}
