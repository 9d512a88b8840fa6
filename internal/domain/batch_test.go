package domain

import (
	"errors"
	"testing"
)

func TestBatch_AppendUntilFull(t *testing.T) {
	b := NewBatch(0)
	frame := make([]byte, FrameSize)
	FillCalibration(frame)

	if !b.Empty() {
		t.Fatal("new batch not empty")
	}

	for i := 0; i < BatchFrames; i++ {
		if b.Full() {
			t.Fatalf("batch full after %d frames", i)
		}
		if err := b.Append(frame); err != nil {
			t.Fatalf("Append() frame %d: %v", i, err)
		}
	}

	if !b.Full() || b.Len() != BatchSize || b.Frames() != BatchFrames {
		t.Fatalf("Full=%v Len=%d Frames=%d, want true/%d/%d", b.Full(), b.Len(), b.Frames(), BatchSize, BatchFrames)
	}
	if err := b.Append(frame); !errors.Is(err, ErrBatchFull) {
		t.Errorf("Append() on full batch = %v, want ErrBatchFull", err)
	}
	if got := b.Bytes()[BatchSize-FrameSize+5]; got != 5 {
		t.Errorf("last frame byte 5 = %d, want 5", got)
	}

	b.Reset()
	if !b.Empty() || len(b.Bytes()) != 0 {
		t.Error("Reset() did not empty the batch")
	}
}

func TestBatch_AppendRejectsWrongSize(t *testing.T) {
	b := NewBatch(0)
	for _, n := range []int{0, FrameSize - 1, FrameSize + 1} {
		if err := b.Append(make([]byte, n)); !errors.Is(err, ErrFrameSize) {
			t.Errorf("Append(%d bytes) = %v, want ErrFrameSize", n, err)
		}
	}
	if !b.Empty() {
		t.Error("rejected frames changed the fill length")
	}
}

func TestBatch_AppendCopies(t *testing.T) {
	b := NewBatch(0)
	frame := make([]byte, FrameSize)
	frame[0] = 7
	if err := b.Append(frame); err != nil {
		t.Fatal(err)
	}
	frame[0] = 9
	if b.Bytes()[0] != 7 {
		t.Error("batch aliases the appended frame")
	}
}

func TestBatch_Transfer(t *testing.T) {
	b := NewBatch(3)
	if b.Owner() != OwnerFree {
		t.Fatalf("new batch owner = %s, want free", b.Owner())
	}

	if err := b.Transfer(OwnerFree, OwnerFilling); err != nil {
		t.Fatalf("Transfer(free->filling) = %v", err)
	}
	err := b.Transfer(OwnerFree, OwnerFilling)
	if !errors.Is(err, ErrOwnership) {
		t.Fatalf("second Transfer(free->filling) = %v, want ErrOwnership", err)
	}
	if b.Owner() != OwnerFilling {
		t.Errorf("failed transfer changed owner to %s", b.Owner())
	}
}

func TestOwner_String(t *testing.T) {
	tests := []struct {
		owner Owner
		want  string
	}{
		{OwnerFree, "free"},
		{OwnerFilling, "filling"},
		{OwnerFilled, "filled"},
		{OwnerDraining, "draining"},
		{Owner(42), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.owner.String(); got != tt.want {
			t.Errorf("Owner(%d).String() = %q, want %q", tt.owner, got, tt.want)
		}
	}
}

func TestIsCalibrationFrame(t *testing.T) {
	frame := make([]byte, FrameSize)
	FillCalibration(frame)
	if !IsCalibrationFrame(frame) {
		t.Fatal("calibration frame rejected")
	}
	frame[63] = 0
	if IsCalibrationFrame(frame) {
		t.Error("frame with a zeroed byte accepted")
	}
	if IsCalibrationFrame(frame[:32]) {
		t.Error("short frame accepted")
	}
}
