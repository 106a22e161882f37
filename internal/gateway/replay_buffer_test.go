package gateway

import (
	"fmt"
	"testing"
)

func TestReplayBuffer_PushAndLen(t *testing.T) {
	rb := NewReplayBuffer(4)
	if rb.Len() != 0 {
		t.Fatalf("empty buffer len = %d", rb.Len())
	}

	for i := int64(1); i <= 3; i++ {
		rb.Push(i, []byte(fmt.Sprintf("msg-%d", i)))
	}
	if rb.Len() != 3 {
		t.Fatalf("len = %d, want 3", rb.Len())
	}
}

func TestReplayBuffer_OverwritesOldest(t *testing.T) {
	rb := NewReplayBuffer(3)
	for i := int64(1); i <= 5; i++ {
		rb.Push(i, []byte(fmt.Sprintf("msg-%d", i)))
	}

	if rb.Len() != 3 {
		t.Fatalf("len = %d, want capacity 3", rb.Len())
	}

	entries := rb.Recent(3)
	want := []int64{3, 4, 5}
	for i, e := range entries {
		if e.Seq != want[i] {
			t.Fatalf("entry %d seq = %d, want %d", i, e.Seq, want[i])
		}
	}
}

func TestReplayBuffer_RecentReturnsTailInOrder(t *testing.T) {
	rb := NewReplayBuffer(10)
	for i := int64(1); i <= 6; i++ {
		rb.Push(i, []byte(fmt.Sprintf("msg-%d", i)))
	}

	entries := rb.Recent(2)
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
	if entries[0].Seq != 5 || entries[1].Seq != 6 {
		t.Fatalf("tail = [%d %d], want [5 6]", entries[0].Seq, entries[1].Seq)
	}

	// Asking for more than stored returns everything.
	if got := rb.Recent(100); len(got) != 6 {
		t.Fatalf("Recent(100) = %d entries, want 6", len(got))
	}
}

func TestReplayBuffer_RangeBounds(t *testing.T) {
	rb := NewReplayBuffer(10)
	for i := int64(1); i <= 8; i++ {
		rb.Push(i, []byte(fmt.Sprintf("msg-%d", i)))
	}

	entries := rb.Range(3, 5)
	if len(entries) != 3 {
		t.Fatalf("got %d entries, want 3", len(entries))
	}
	for i, e := range entries {
		if e.Seq != int64(3+i) {
			t.Fatalf("entry %d seq = %d", i, e.Seq)
		}
	}

	if got := rb.Range(100, 200); len(got) != 0 {
		t.Fatalf("out-of-range query returned %d entries", len(got))
	}
}

func TestReplayBuffer_PushCopiesData(t *testing.T) {
	rb := NewReplayBuffer(2)
	data := []byte("original")
	rb.Push(1, data)
	data[0] = 'X'

	entries := rb.Recent(1)
	if string(entries[0].Data) != "original" {
		t.Fatalf("buffer aliased caller slice: %s", entries[0].Data)
	}
}
