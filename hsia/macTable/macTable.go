package macTable

// Per switch MAC learning table. Each switch owns one table and only its
// actor touches it, so there is no locking here.

import (
	"net"
	"sort"
	"time"

	"github.com/pablomguevara/my-mininet/pkg/netutils"
)

type macKey [6]byte

type macEntry struct {
	port    uint32
	learned time.Time
}

// Snapshot of a learned entry
type Entry struct {
	MAC  string `json:"mac"`
	Port uint32 `json:"port"`
	Age  string `json:"age"`
}

type Table struct {
	maxAge  time.Duration // 0 disables aging
	entries map[macKey]macEntry
	now     func() time.Time
}

// Create a table. Entries older than maxAge are forgotten, maxAge 0 keeps
// them until the table is discarded.
func NewTable(maxAge time.Duration) *Table {
	return &Table{
		maxAge:  maxAge,
		entries: make(map[macKey]macEntry),
		now:     time.Now,
	}
}

func toKey(mac net.HardwareAddr) (macKey, bool) {
	var key macKey
	if len(mac) != len(key) {
		return key, false
	}
	copy(key[:], mac)
	return key, true
}

// Learn records mac as reachable through port, replacing any earlier port.
// Group addresses are never sources and are not learned.
func (t *Table) Learn(mac net.HardwareAddr, port uint32) bool {
	key, ok := toKey(mac)
	if !ok || netutils.IsMulticastMac(mac) {
		return false
	}

	t.entries[key] = macEntry{port: port, learned: t.now()}
	return true
}

// Lookup returns the port mac was last learned on
func (t *Table) Lookup(mac net.HardwareAddr) (uint32, bool) {
	key, ok := toKey(mac)
	if !ok {
		return 0, false
	}

	entry, ok := t.entries[key]
	if !ok {
		return 0, false
	}

	if t.expired(entry) {
		delete(t.entries, key)
		return 0, false
	}

	return entry.port, true
}

func (t *Table) expired(entry macEntry) bool {
	return t.maxAge > 0 && t.now().Sub(entry.learned) > t.maxAge
}

// Number of entries, aged ones included until they are looked up
func (t *Table) Len() int {
	return len(t.entries)
}

// Entries returns the live entries sorted by mac
func (t *Table) Entries() []Entry {
	now := t.now()
	list := make([]Entry, 0, len(t.entries))

	for key, entry := range t.entries {
		if t.expired(entry) {
			continue
		}
		list = append(list, Entry{
			MAC:  net.HardwareAddr(key[:]).String(),
			Port: entry.port,
			Age:  now.Sub(entry.learned).Truncate(time.Second).String(),
		})
	}

	sort.Slice(list, func(i, j int) bool { return list[i].MAC < list[j].MAC })

	return list
}
