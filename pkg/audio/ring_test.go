package audio_test

import (
	"testing"

	"github.com/zordhalo/lisper-flow/pkg/audio"
)

func seq(start, n int) []float32 {
	out := make([]float32, n)
	for i := range n {
		out[i] = float32(start + i)
	}
	return out
}

func TestRingBuffer_SnapshotReturnsWriteOrder(t *testing.T) {
	t.Parallel()
	r := audio.NewRingBuffer(8)
	r.Write(seq(0, 5))

	got := r.Snapshot(5)
	want := seq(0, 5)
	if len(got) != len(want) {
		t.Fatalf("snapshot length = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("snapshot[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestRingBuffer_OverwritesOldestWhenFull(t *testing.T) {
	t.Parallel()
	r := audio.NewRingBuffer(4)
	r.Write(seq(0, 4))
	r.Write(seq(4, 2)) // pushes out samples 0 and 1

	if r.Len() != 4 {
		t.Fatalf("Len = %d, want 4", r.Len())
	}
	got := r.Snapshot(4)
	want := []float32{2, 3, 4, 5}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("snapshot[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestRingBuffer_WriteLargerThanCapacityKeepsTail(t *testing.T) {
	t.Parallel()
	r := audio.NewRingBuffer(3)
	r.Write(seq(0, 10))

	got := r.Snapshot(3)
	want := []float32{7, 8, 9}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("snapshot[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestRingBuffer_SnapshotClampsToAvailable(t *testing.T) {
	t.Parallel()
	r := audio.NewRingBuffer(16)
	r.Write(seq(0, 3))

	got := r.Snapshot(10)
	if len(got) != 3 {
		t.Fatalf("snapshot length = %d, want 3", len(got))
	}
	if got := r.Snapshot(0); got != nil {
		t.Errorf("Snapshot(0) = %v, want nil", got)
	}
}

func TestRingBuffer_SnapshotIsACopy(t *testing.T) {
	t.Parallel()
	r := audio.NewRingBuffer(4)
	r.Write(seq(0, 4))

	snap := r.Snapshot(4)
	snap[0] = 99
	again := r.Snapshot(4)
	if again[0] == 99 {
		t.Error("mutating a snapshot changed the buffer contents")
	}
}

func TestRingBuffer_Reset(t *testing.T) {
	t.Parallel()
	r := audio.NewRingBuffer(4)
	r.Write(seq(0, 4))
	r.Reset()

	if r.Len() != 0 {
		t.Errorf("Len after Reset = %d, want 0", r.Len())
	}
	if got := r.Snapshot(4); got != nil {
		t.Errorf("Snapshot after Reset = %v, want nil", got)
	}
	if r.Cap() != 4 {
		t.Errorf("Cap after Reset = %d, want 4", r.Cap())
	}
}
