// Package ports defines the interfaces that connect the streaming pipeline
// to the peripheral bus driver and to the socket transport.
//
// # Port Interfaces
//
//   - [Bus]: asynchronous and single-shot fixed-size reads from the device
//   - [Dialer]: opens a stream connection to the remote host
//   - [Conn]: writes bytes to an open connection
//
// The application layer (internal/app) depends only on these interfaces.
// Adapters (internal/adapters) implement them on top of a serial port, a
// synthetic calibration source, or the net package.
package ports
