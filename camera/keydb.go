// Package camera holds per-exposure geometry/acquisition metadata (spec §3
// "Camera info") and the mode-selection algorithm that derives it from an
// ACF database (spec §4.2 set_camera_mode).
package camera

import "fmt"

// KeyType tags a KeywordDB entry so a FITS writer can emit the right card
// type without re-parsing the stored string.
type KeyType int

const (
	KeyString KeyType = iota
	KeyInt
	KeyFloat
	KeyBool
)

// Key is one FITS header card awaiting a writer.
type Key struct {
	Keyword string
	Value   string
	Comment string
	Type    KeyType
}

// KeywordDB is an insertion-ordered set of FITS header keys, keyed by
// keyword so a later write replaces rather than duplicates (spec §3 "two
// keyword databases"). Used for both the user and system databases.
type KeywordDB struct {
	order []string
	keys  map[string]Key
}

func NewKeywordDB() *KeywordDB {
	return &KeywordDB{keys: map[string]Key{}}
}

func (d *KeywordDB) add(k Key) {
	if _, ok := d.keys[k.Keyword]; !ok {
		d.order = append(d.order, k.Keyword)
	}
	d.keys[k.Keyword] = k
}

func (d *KeywordDB) AddString(keyword, value, comment string) {
	d.add(Key{Keyword: keyword, Value: value, Comment: comment, Type: KeyString})
}

func (d *KeywordDB) AddInt(keyword string, value int64, comment string) {
	d.add(Key{Keyword: keyword, Value: fmt.Sprintf("%d", value), Comment: comment, Type: KeyInt})
}

func (d *KeywordDB) AddFloat(keyword string, value float64, comment string) {
	d.add(Key{Keyword: keyword, Value: fmt.Sprintf("%g", value), Comment: comment, Type: KeyFloat})
}

func (d *KeywordDB) AddBool(keyword string, value bool, comment string) {
	v := "F"
	if value {
		v = "T"
	}
	d.add(Key{Keyword: keyword, Value: v, Comment: comment, Type: KeyBool})
}

// Keys returns the database's entries in insertion order.
func (d *KeywordDB) Keys() []Key {
	out := make([]Key, 0, len(d.order))
	for _, kw := range d.order {
		out = append(out, d.keys[kw])
	}
	return out
}

// Get returns the named key and whether it was present.
func (d *KeywordDB) Get(keyword string) (Key, bool) {
	k, ok := d.keys[keyword]
	return k, ok
}

// Clone returns an independent copy, so a writer running on another
// goroutine isn't racing a subsequent Clear/Add on the original (spec §4.4
// "clear per-extension FITS keys database" runs every iteration while the
// previous extension may still be writing).
func (d *KeywordDB) Clone() *KeywordDB {
	out := NewKeywordDB()
	for _, k := range d.Keys() {
		out.add(k)
	}
	return out
}

// Clear empties the database in place, keeping the underlying map/slice
// capacity — mirrors the per-extension key reset in the exposure loop
// (spec §4.4 "clear per-extension FITS keys database").
func (d *KeywordDB) Clear() {
	d.order = d.order[:0]
	for k := range d.keys {
		delete(d.keys, k)
	}
}
