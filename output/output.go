// Package output defines the log sink contract that output components
// publish in the service registry, and the entry format sinks emit.
package output

import "time"

// SinkInterface is the registry interface name sink components provide.
const SinkInterface = "output.Sink"

// Sink receives short event lines from other components. Write must not
// block the caller on I/O for long; sinks that talk to the network queue.
type Sink interface {
	Write(source, message string)
}

// Entry is one event as emitted by sinks that serialize.
type Entry struct {
	Source    string    `json:"source"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// NewEntry stamps an entry with the current time.
func NewEntry(source, message string) Entry {
	return Entry{Source: source, Message: message, Timestamp: time.Now().UTC()}
}
