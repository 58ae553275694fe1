package ptpengine

import (
	"errors"
	"io"

	"github.com/nasa-jpl/ptpgo/ptptransport"
)

// fakeChannel replays a scripted sequence of reads and records every
// write, standing in for a ptptransport.Channel in tests that would
// otherwise need real USB or TCP hardware. All its mutable state is only
// ever touched while the Engine under test holds e.mu, so it needs no
// locking of its own; readCalls/writes are still safe to inspect after a
// concurrency test joins its goroutines.
type fakeChannel struct {
	kind   ptptransport.Kind
	maxPkt int
	writes [][]byte

	reads  [][]byte // queued packets/messages, consumed in order
	next   int      // index of the item currently being consumed
	offset int      // bytes already consumed from reads[next]

	// failReads, when > 0, makes the next N Read calls fail (without
	// consuming a queued item) and is decremented on each one. Generalizes
	// the original single-retry-only failFirstRead flag to cover multiple
	// consecutive failures too (spec.md §8 property #7).
	failReads int
	readCalls int
}

func (f *fakeChannel) Write(b []byte) (int, error) {
	cp := make([]byte, len(b))
	copy(cp, b)
	f.writes = append(f.writes, cp)
	return len(b), nil
}

// Read consumes bytes from the queued items in order, allowing a single
// queued item to be drained across multiple calls (mirroring a real
// socket or USB endpoint, which makes no promise that one Read call
// returns one whole packet).
func (f *fakeChannel) Read(into []byte) (int, error) {
	f.readCalls++
	if f.failReads > 0 {
		f.failReads--
		return 0, errors.New("fake: simulated read failure")
	}
	if f.next >= len(f.reads) {
		return 0, io.EOF
	}
	chunk := f.reads[f.next]
	n := copy(into, chunk[f.offset:])
	f.offset += n
	if f.offset >= len(chunk) {
		f.next++
		f.offset = 0
	}
	return n, nil
}

func (f *fakeChannel) MaxPacketSize() int { return f.maxPkt }
func (f *fakeChannel) Close() error       { return nil }
func (f *fakeChannel) Kind() ptptransport.Kind {
	if f.kind == 0 {
		return ptptransport.KindUSB
	}
	return f.kind
}

func newFakeUSB(maxPkt int, reads ...[]byte) *fakeChannel {
	return &fakeChannel{kind: ptptransport.KindUSB, maxPkt: maxPkt, reads: reads}
}

func newFakeIP(reads ...[]byte) *fakeChannel {
	return &fakeChannel{kind: ptptransport.KindIP, maxPkt: 4096, reads: reads}
}

func newFakeHybrid(maxPkt int, reads ...[]byte) *fakeChannel {
	return &fakeChannel{kind: ptptransport.KindIPOverUSB, maxPkt: maxPkt, reads: reads}
}
