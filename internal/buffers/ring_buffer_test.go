// ring_buffer_test.go — Correctness tests for the trimmed ring buffer
// (WriteOne/ReadAll/Len — the surface network capture drives).

package buffers

import "testing"

func TestRingBufferReadAllBeforeFull(t *testing.T) {
	rb := NewRingBuffer[int](5)
	rb.WriteOne(1)
	rb.WriteOne(2)
	rb.WriteOne(3)

	got := rb.ReadAll()
	want := []int{1, 2, 3}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
	if rb.Len() != 3 {
		t.Fatalf("expected Len 3, got %d", rb.Len())
	}
}

func TestRingBufferEvictsOldestOnOverflow(t *testing.T) {
	rb := NewRingBuffer[int](3)
	for i := 1; i <= 5; i++ {
		rb.WriteOne(i)
	}

	got := rb.ReadAll()
	want := []int{3, 4, 5}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
	if rb.Len() != 3 {
		t.Fatalf("expected Len to stay at capacity 3, got %d", rb.Len())
	}
}

func TestRingBufferEmptyReadsNil(t *testing.T) {
	rb := NewRingBuffer[string](4)
	if got := rb.ReadAll(); got != nil {
		t.Fatalf("expected nil for an empty buffer, got %v", got)
	}
	if rb.Len() != 0 {
		t.Fatalf("expected Len 0, got %d", rb.Len())
	}
}

func TestRingBufferWrapsMultipleTimes(t *testing.T) {
	rb := NewRingBuffer[int](4)
	for i := 1; i <= 11; i++ {
		rb.WriteOne(i)
	}
	// Capacity 4, 11 writes: oldest retained should be 8, newest 11.
	got := rb.ReadAll()
	want := []int{8, 9, 10, 11}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}
