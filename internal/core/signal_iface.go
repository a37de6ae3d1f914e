package core

// Frame is a raw encoded signaling message.
type Frame []byte

// SignalConnection abstracts for a system messaging transport
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	TrySend(Frame) error
	Close()
	// CloseWithCode sends a close frame with code and reason after queued frames are flushed.
	CloseWithCode(code int, reason string)
	IsOpen() bool
}
