package domain

import (
	"sort"

	"go.trai.ch/zerr"
)

// LockFormatVersion is the current lock document format version. Readers
// accept any version up to and including this one; newer documents are
// rejected so an older tool never silently misreads a newer format.
const LockFormatVersion = 4

// LockEntry is the resolved state of one (environment, platform) pair: the
// channel configuration it was solved against and an ordered list of
// references into the package pool.
type LockEntry struct {
	Channels []Channel
	Packages []RecordKey
}

// LockDocument is the persisted, fully resolved record of exact packages
// per environment and platform, plus a global pool of package records keyed
// by identity. Resolvers treat it as copy-on-write: a resolve produces a
// new document and never mutates its input.
type LockDocument struct {
	Version      int
	Environments map[string]map[Platform]LockEntry

	pool map[RecordKey]*PackageRecord

	// duplicates records identity keys that appeared more than once with
	// differing content when the document was read. The pool keeps the
	// first occurrence; the checker fails every pair referencing one.
	duplicates map[RecordKey]bool
}

// NewLockDocument creates an empty lock document at the current format
// version.
func NewLockDocument() *LockDocument {
	return &LockDocument{
		Version:      LockFormatVersion,
		Environments: make(map[string]map[Platform]LockEntry),
		pool:         make(map[RecordKey]*PackageRecord),
	}
}

// AddRecord inserts a record into the pool. A record already present under
// its identity key is referenced, not duplicated; a different record under
// the same key is an integrity violation.
func (d *LockDocument) AddRecord(rec *PackageRecord) error {
	key := rec.Key()
	if existing, ok := d.pool[key]; ok {
		if existing != rec && existing.SHA256 != rec.SHA256 {
			return zerr.With(ErrDuplicateRecord, "record", key.String())
		}
		return nil
	}
	d.pool[key] = rec
	return nil
}

// MarkDuplicate records that key appeared more than once with differing
// content in the serialized form.
func (d *LockDocument) MarkDuplicate(key RecordKey) {
	if d.duplicates == nil {
		d.duplicates = make(map[RecordKey]bool)
	}
	d.duplicates[key] = true
}

// IsDuplicate reports whether key was marked as a duplicate identity.
func (d *LockDocument) IsDuplicate(key RecordKey) bool {
	return d.duplicates[key]
}

// Record looks up a pool record by identity.
func (d *LockDocument) Record(key RecordKey) (*PackageRecord, bool) {
	rec, ok := d.pool[key]
	return rec, ok
}

// Records returns all pool records sorted by identity key, for
// deterministic serialization.
func (d *LockDocument) Records() []*PackageRecord {
	keys := make([]RecordKey, 0, len(d.pool))
	for key := range d.pool {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })

	out := make([]*PackageRecord, len(keys))
	for i, key := range keys {
		out[i] = d.pool[key]
	}
	return out
}

// Entry returns the lock entry for a pair, if present.
func (d *LockDocument) Entry(env string, platform Platform) (LockEntry, bool) {
	platforms, ok := d.Environments[env]
	if !ok {
		return LockEntry{}, false
	}
	entry, ok := platforms[platform]
	return entry, ok
}

// SetEntry replaces the entry for a pair. Every referenced key must already
// be present in the pool.
func (d *LockDocument) SetEntry(env string, platform Platform, entry LockEntry) error {
	for _, key := range entry.Packages {
		if _, ok := d.pool[key]; !ok {
			return zerr.With(zerr.New("lock entry references unknown record"), "record", key.String())
		}
	}
	if d.Environments == nil {
		d.Environments = make(map[string]map[Platform]LockEntry)
	}
	if d.Environments[env] == nil {
		d.Environments[env] = make(map[Platform]LockEntry)
	}
	d.Environments[env][platform] = entry
	return nil
}

// EntryRecords resolves a pair's ordered package references to records.
func (d *LockDocument) EntryRecords(env string, platform Platform) ([]*PackageRecord, error) {
	entry, ok := d.Entry(env, platform)
	if !ok {
		return nil, zerr.With(zerr.With(zerr.New("no lock entry"),
			"environment", env),
			"platform", string(platform),
		)
	}
	records := make([]*PackageRecord, 0, len(entry.Packages))
	for _, key := range entry.Packages {
		rec, ok := d.pool[key]
		if !ok {
			return nil, zerr.With(zerr.New("dangling record reference"), "record", key.String())
		}
		records = append(records, rec)
	}
	return records, nil
}

// Clone returns a deep copy of the document structure. Pool records are
// shared; they are immutable after resolution.
func (d *LockDocument) Clone() *LockDocument {
	out := NewLockDocument()
	out.Version = d.Version
	for env, platforms := range d.Environments {
		out.Environments[env] = make(map[Platform]LockEntry, len(platforms))
		for platform, entry := range platforms {
			copied := LockEntry{
				Channels: append([]Channel(nil), entry.Channels...),
				Packages: append([]RecordKey(nil), entry.Packages...),
			}
			out.Environments[env][platform] = copied
		}
	}
	for key, rec := range d.pool {
		out.pool[key] = rec
	}
	for key := range d.duplicates {
		out.MarkDuplicate(key)
	}
	return out
}

// GC drops pool records no entry references anymore and returns how many
// were removed.
func (d *LockDocument) GC() int {
	referenced := make(map[RecordKey]bool, len(d.pool))
	for _, platforms := range d.Environments {
		for _, entry := range platforms {
			for _, key := range entry.Packages {
				referenced[key] = true
			}
		}
	}
	removed := 0
	for key := range d.pool {
		if !referenced[key] {
			delete(d.pool, key)
			removed++
		}
	}
	return removed
}

// CheckIntegrity verifies the pool invariants: every reference resolves,
// and no record is orphaned.
func (d *LockDocument) CheckIntegrity() error {
	referenced := make(map[RecordKey]bool, len(d.pool))
	for env, platforms := range d.Environments {
		for platform, entry := range platforms {
			for _, key := range entry.Packages {
				if _, ok := d.pool[key]; !ok {
					return zerr.With(zerr.With(zerr.With(zerr.New("dangling record reference"),
						"environment", env),
						"platform", string(platform)),
						"record", key.String(),
					)
				}
				referenced[key] = true
			}
		}
	}
	for key := range d.pool {
		if !referenced[key] {
			return zerr.With(zerr.New("orphaned pool record"), "record", key.String())
		}
	}
	return nil
}
