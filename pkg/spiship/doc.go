// Package spiship provides an embeddable frame streamer.
//
// Spiship reads fixed-size frames from a synchronous peripheral bus, packs
// them into 16 KiB batches and writes the batches to a TCP peer. Two tasks
// share a pool of two batch buffers: acquisition fills them, transmission
// sends them. Acquisition pauses while no peer is connected and batches
// that are queued when a connection drops are discarded rather than sent
// on the next connection.
//
// # Basic Usage
//
//	cfg := spiship.DefaultConfig()
//	cfg.Addr = "192.168.1.20:5001"
//
//	s, err := spiship.New(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := s.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	// ... run until shutdown signal ...
//	if err := s.Stop(); err != nil {
//	    log.Printf("shutdown error: %v", err)
//	}
//
// # Frame Sources
//
// Config.Bus selects the source: [BusSim] produces the calibration pattern
// without hardware and [BusSerial] drives a UART bridge through
// go.bug.st/serial. Any other source can be injected with [WithBus].
//
// # Event Handling
//
// Implement [EventHandler] (embedding [BaseEventHandler] for defaults) and
// pass it via [WithEventHandler] to observe lifecycle transitions, sent
// batches and ended sessions.
//
// # Lifecycle States
//
// An instance is in one of [StateStopped], [StateStarting], [StateRunning],
// [StateStopping] or [StateCrashed]. Use [Spiship.Status] for the state and
// [Spiship.Snapshot] for the pipeline's counters.
package spiship
