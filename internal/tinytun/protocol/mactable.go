package protocol

import (
	"bytes"
	"net"

	"github.com/rectcircle/tinytun/internal/variable"
)

const maxUses = 0xFFFF

type macEntry struct {
	addr [6]byte
	uses uint16
}

// MACTable - small fixed-capacity set of source addresses seen behind a connection
//
// Each slot carries a saturating usage counter. When a counter would overflow
// every counter is halved; when the table is full the least used slot is
// replaced. The slots are allocated on first Learn.
type MACTable struct {
	capacity int
	entries  []macEntry
}

// NewMACTable - table with room for capacity addresses, the default when capacity <= 0
func NewMACTable(capacity int) *MACTable {
	if capacity <= 0 {
		capacity = variable.MacTableSize
	}
	return &MACTable{capacity: capacity}
}

// Learn - record one sighting of addr
func (t *MACTable) Learn(addr net.HardwareAddr) {
	if len(addr) < 6 {
		return
	}
	if t.entries == nil {
		t.entries = make([]macEntry, t.capacity)
	}
	victim := 0
	for i := range t.entries {
		e := &t.entries[i]
		if e.uses != 0 && bytes.Equal(e.addr[:], addr[:6]) {
			if e.uses == maxUses {
				t.decay()
			} else {
				e.uses++
			}
			return
		}
		if e.uses < t.entries[victim].uses {
			victim = i
		}
	}
	e := &t.entries[victim]
	copy(e.addr[:], addr[:6])
	e.uses = 1
}

func (t *MACTable) decay() {
	for i := range t.entries {
		t.entries[i].uses >>= 1
	}
}

// Contains - whether addr currently occupies a slot
func (t *MACTable) Contains(addr net.HardwareAddr) bool {
	return t.Uses(addr) != 0
}

// Uses - usage counter of addr, 0 when unknown
func (t *MACTable) Uses(addr net.HardwareAddr) uint16 {
	if len(addr) < 6 {
		return 0
	}
	for _, e := range t.entries {
		if e.uses != 0 && bytes.Equal(e.addr[:], addr[:6]) {
			return e.uses
		}
	}
	return 0
}

// Capacity - number of slots
func (t *MACTable) Capacity() int {
	return t.capacity
}

// Len - number of occupied slots
func (t *MACTable) Len() int {
	n := 0
	for _, e := range t.entries {
		if e.uses != 0 {
			n++
		}
	}
	return n
}
