package models

// Dataset is an immutable snapshot of task records tagged with a version.
// A mutation never edits a Dataset; the owning source builds a new one with
// a higher version and swaps the reference.
type Dataset struct {
	version uint64
	records []TaskRecord
	index   map[string]int
}

// NewDataset builds a snapshot from records. The slice is copied; records
// with duplicate IDs keep the last occurrence's position in the index.
func NewDataset(version uint64, records []TaskRecord) *Dataset {
	recs := make([]TaskRecord, len(records))
	copy(recs, records)
	idx := make(map[string]int, len(recs))
	for i, r := range recs {
		idx[r.ID] = i
	}
	return &Dataset{version: version, records: recs, index: idx}
}

// Version returns the snapshot's version number.
func (d *Dataset) Version() uint64 {
	if d == nil {
		return 0
	}
	return d.version
}

// Len returns the number of records.
func (d *Dataset) Len() int {
	if d == nil {
		return 0
	}
	return len(d.records)
}

// At returns the i-th record in dataset order.
func (d *Dataset) At(i int) *TaskRecord {
	return &d.records[i]
}

// Records returns the underlying records. Callers must not modify the slice.
func (d *Dataset) Records() []TaskRecord {
	if d == nil {
		return nil
	}
	return d.records
}

// Lookup resolves a record by ID.
func (d *Dataset) Lookup(id string) (TaskRecord, bool) {
	if d == nil {
		return TaskRecord{}, false
	}
	i, ok := d.index[id]
	if !ok {
		return TaskRecord{}, false
	}
	return d.records[i], true
}
