package reliable

import (
	"testing"

	"github.com/vpncore/protoengine/internal/model"
)

func Test_RecvWindow_inOrder(t *testing.T) {
	w := NewRecvWindow()
	w.TryInsert(&model.Packet{ID: 0})
	ready := w.Ready()
	if len(ready) != 1 || ready[0].ID != 0 {
		t.Fatalf("Ready() = %+v, want [{ID:0}]", ready)
	}

	w.TryInsert(&model.Packet{ID: 1})
	ready = w.Ready()
	if len(ready) != 1 || ready[0].ID != 1 {
		t.Fatalf("Ready() = %+v, want [{ID:1}]", ready)
	}
}

func Test_RecvWindow_outOfOrder(t *testing.T) {
	w := NewRecvWindow()
	w.TryInsert(&model.Packet{ID: 0})
	w.TryInsert(&model.Packet{ID: 2})
	w.TryInsert(&model.Packet{ID: 1})

	ready := w.Ready()
	if len(ready) != 3 {
		t.Fatalf("Ready() should deliver the full contiguous run once the gap fills, got %d", len(ready))
	}
	for i, p := range ready {
		if p.ID != model.PacketID(i) {
			t.Errorf("Ready()[%d].ID = %d, want %d", i, p.ID, i)
		}
	}
}

func Test_RecvWindow_gapHeldBack(t *testing.T) {
	w := NewRecvWindow()
	w.TryInsert(&model.Packet{ID: 0})
	w.TryInsert(&model.Packet{ID: 2}) // gap: id 1 missing

	ready := w.Ready()
	if len(ready) != 1 || ready[0].ID != 0 {
		t.Fatalf("Ready() should only deliver the contiguous prefix, got %+v", ready)
	}

	w.TryInsert(&model.Packet{ID: 1})
	ready = w.Ready()
	if len(ready) != 2 {
		t.Fatalf("Ready() should now deliver ids 1 and 2, got %+v", ready)
	}
}

func Test_RecvWindow_dropsStaleDuplicate(t *testing.T) {
	w := NewRecvWindow()
	w.TryInsert(&model.Packet{ID: 0})
	w.Ready()

	if w.TryInsert(&model.Packet{ID: 0}) {
		t.Errorf("TryInsert() should reject a packet id already consumed")
	}
}

func Test_RecvWindow_dropsWhenFull(t *testing.T) {
	w := NewRecvWindow()
	// hold back delivery with a gap at id 0, then fill the buffer with a
	// run that can never become contiguous until id 0 arrives.
	for i := 1; i <= RecvBufferSize; i++ {
		w.TryInsert(&model.Packet{ID: model.PacketID(i)})
	}
	if w.TryInsert(&model.Packet{ID: model.PacketID(RecvBufferSize + 1)}) {
		t.Errorf("TryInsert() should reject once the buffer is full")
	}
}
