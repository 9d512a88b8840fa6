// Package domain contains the core entities and value objects for spiship.
//
// This package is the innermost layer. It has no dependencies on
// infrastructure concerns (bus drivers, sockets, logging) and holds only the
// framing constants, the Batch buffer and the error vocabulary shared by the
// pipeline.
//
// # Entities
//
//   - [Batch]: a fixed 16 KiB buffer that accumulates 256 frames of 64 bytes
//   - [Owner]: which stage of the pipeline currently holds a Batch
//
// A Frame is not a type of its own. It is a 64-byte view into storage owned
// by the bus transfer engine and is only valid until the engine is asked for
// the next frame.
package domain
