package livequery

import "fmt"

// ConnectionError is a failure of the dedicated connection or of a statement
// run on it. It ends the Query; Next reports it once, then io.EOF.
type ConnectionError struct {
	Op  string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("livequery: %s: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// MalformedNotificationError is a payload that could not be decoded. A Query
// logs and drops these; they never reach the consumer.
type MalformedNotificationError struct {
	Payload string
	Err     error
}

func (e *MalformedNotificationError) Error() string {
	return fmt.Sprintf("livequery: malformed notification: %v", e.Err)
}

func (e *MalformedNotificationError) Unwrap() error { return e.Err }
