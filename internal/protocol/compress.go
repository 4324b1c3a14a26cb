package protocol

import (
	"fmt"
	"maps"
	"reflect"
)

// Record is the wire form of one entity. It always carries an "id" and
// otherwise only scalar fields.
type Record map[string]any

// ID returns the record's identity.
func (r Record) ID() any { return r["id"] }

// Compressor turns successive snapshots of an entity list into patches.
// Each event name has its own reference snapshot. Not safe for concurrent use.
type Compressor struct {
	last map[string][]Record
}

func NewCompressor() *Compressor {
	return &Compressor{last: make(map[string][]Record)}
}

// Compress returns the payload to send for event. The full list is returned
// the first time and whenever the ids or their order change; otherwise only
// changed entities are returned, each as its id plus the changed fields, and
// patch is true. ok is false when nothing changed.
func (c *Compressor) Compress(event string, records []Record) (data []Record, patch bool, ok bool) {
	prev, seen := c.last[event]
	if !seen || !sameIDs(prev, records) {
		c.Full(event, records)
		return records, false, true
	}

	for i, cur := range records {
		diff := diffRecord(prev[i], cur)
		if diff == nil {
			continue
		}
		data = append(data, diff)
	}
	c.last[event] = cloneAll(records)
	if len(data) == 0 {
		return nil, false, false
	}
	return data, true, true
}

// Full stores records as the reference snapshot for event. Call it whenever
// the full list is sent outside Compress.
func (c *Compressor) Full(event string, records []Record) {
	c.last[event] = cloneAll(records)
}

// Reset forgets the reference snapshot so the next Compress sends everything.
func (c *Compressor) Reset(event string) {
	delete(c.last, event)
}

// Apply reconstructs the current list from the previous one and a patch.
func Apply(prev []Record, patch []Record) ([]Record, error) {
	out := cloneAll(prev)
	index := make(map[any]int, len(out))
	for i, r := range out {
		index[r.ID()] = i
	}
	for _, p := range patch {
		i, ok := index[p.ID()]
		if !ok {
			return nil, fmt.Errorf("%w: patch for unknown id %v", ErrMalformed, p.ID())
		}
		maps.Copy(out[i], p)
	}
	return out, nil
}

func sameIDs(a, b []Record) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].ID() != b[i].ID() {
			return false
		}
	}
	return true
}

// diffRecord returns the id and fields of cur that differ from prev, or nil.
func diffRecord(prev, cur Record) Record {
	var diff Record
	for k, v := range cur {
		if old, ok := prev[k]; ok && reflect.DeepEqual(old, v) {
			continue
		}
		if diff == nil {
			diff = Record{"id": cur.ID()}
		}
		diff[k] = v
	}
	return diff
}

func cloneAll(records []Record) []Record {
	out := make([]Record, len(records))
	for i, r := range records {
		out[i] = maps.Clone(r)
	}
	return out
}
