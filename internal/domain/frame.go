package domain

// Framing constants. These are fixed at build time; the peer on the other
// side of the socket relies on them to slice the stream.
const (
	// FrameSize is the number of bytes read from the device in one bus transaction.
	FrameSize = 64

	// BatchFrames is the number of frames packed into one network write.
	BatchFrames = 256

	// BatchSize is the size in bytes of one full batch (16 KiB).
	BatchSize = FrameSize * BatchFrames

	// InFlight is the number of bus read requests kept outstanding.
	InFlight = 16

	// PoolSize is the number of batch buffers circulating between the tasks.
	PoolSize = 2
)

// CalibrationByte returns the byte expected at offset i of a calibration frame.
func CalibrationByte(i int) byte {
	return byte(i % 256)
}

// IsCalibrationFrame reports whether frame carries the exact calibration
// sequence 0, 1, 2, ... FrameSize-1.
func IsCalibrationFrame(frame []byte) bool {
	if len(frame) != FrameSize {
		return false
	}
	for i, b := range frame {
		if b != CalibrationByte(i) {
			return false
		}
	}
	return true
}

// FillCalibration writes the calibration sequence into dst.
func FillCalibration(dst []byte) {
	for i := range dst {
		dst[i] = CalibrationByte(i)
	}
}
