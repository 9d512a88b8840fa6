// Package sink holds the host side of the stream: a TCP receiver that
// appends everything it is sent to a capture file, and a watcher that
// follows that file and validates the frames landing in it.
package sink
