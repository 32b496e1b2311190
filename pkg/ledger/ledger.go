// Package ledger persists the delivery history: a versioned JSON document
// mapping photo fingerprints to delivery records. The ledger is the only
// durable state crossing cycles; a record exists if and only if the bytes
// were confirmed committed to every enabled storage backend.
package ledger

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	errs "photowatch/pkg/errors"
	"photowatch/pkg/logger"
)

// SchemaVersion is the current ledger document version.
const SchemaVersion = "2"

// MigratedPrefix marks fingerprints synthesized for legacy entries that
// predate fingerprinting. They dedup against nothing observed on the page
// and are trusted, never re-verified.
const MigratedPrefix = "migrated_"

// Record is the delivery record for one fingerprint. SourceRef is the
// thumbnail reference the fingerprint was derived from, retained so an
// entry can be matched back to the page listing it was observed in.
type Record struct {
	ResolvedName string    `json:"resolved_name"`
	SourceRef    string    `json:"source_ref,omitempty"`
	DeliveredAt  time.Time `json:"delivered_at"`
}

// Ledger is the persisted fingerprint → delivery-record mapping.
type Ledger struct {
	Version     string            `json:"version"`
	Records     map[string]Record `json:"records"`
	LastUpdated time.Time         `json:"last_updated"`

	mu       sync.Mutex
	dirty    bool
	migrated bool
}

// legacyDocument is the pre-fingerprint v1 schema: a bare list of delivered
// file names, identified by the absence of a version marker.
type legacyDocument struct {
	Version    string   `json:"version"`
	Downloaded []string `json:"downloaded"`
}

// New returns an empty ledger at the current schema version.
func New() *Ledger {
	return &Ledger{
		Version: SchemaVersion,
		Records: make(map[string]Record),
	}
}

// Load reads the ledger from path. A missing file yields a fresh empty
// ledger; unparseable bytes yield a corrupt_ledger error, and the caller
// must halt rather than start empty, since an empty ledger would re-deliver
// the entire page. Legacy v1 documents are migrated in memory; the caller
// should Save after a migration.
func Load(path string, log logger.Logger) (*Ledger, error) {
	if log == nil {
		log = logger.GetLogger()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			log.InfoWithFields("No ledger found, starting empty", map[string]interface{}{
				"path": path,
			})
			return New(), nil
		}
		return nil, fmt.Errorf("failed to read ledger: %w", err)
	}

	l, err := decode(data)
	if err != nil {
		return nil, err
	}

	if l.migrated {
		log.WarnWithFields("Migrated legacy ledger, entries are trusted without fingerprints", map[string]interface{}{
			"path":    path,
			"records": len(l.Records),
		})
	} else {
		log.InfoWithFields("Ledger loaded", map[string]interface{}{
			"path":    path,
			"records": len(l.Records),
		})
	}

	return l, nil
}

// decode parses raw ledger bytes, migrating legacy schemas.
func decode(data []byte) (*Ledger, error) {
	var probe struct {
		Version string `json:"version"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, errs.Newf(errs.ErrorTypeCorruptLedger, "ledger is not valid JSON: %v", err)
	}

	switch probe.Version {
	case SchemaVersion:
		var l Ledger
		if err := json.Unmarshal(data, &l); err != nil {
			return nil, errs.Newf(errs.ErrorTypeCorruptLedger, "ledger has invalid structure: %v", err)
		}
		if l.Records == nil {
			l.Records = make(map[string]Record)
		}
		return &l, nil

	case "":
		// No version marker: either the legacy v1 name list or garbage.
		var legacy legacyDocument
		if err := json.Unmarshal(data, &legacy); err != nil || legacy.Downloaded == nil {
			return nil, errs.New(errs.ErrorTypeCorruptLedger, "ledger has no version marker and no legacy structure")
		}
		return migrate(legacy), nil

	default:
		return nil, errs.Newf(errs.ErrorTypeCorruptLedger, "unsupported ledger version %q", probe.Version)
	}
}

// migrate transforms a legacy v1 document into the current schema. Legacy
// entries carry no thumbnail fingerprint, so each gets a deterministic
// synthetic key derived from its original identifier.
func migrate(legacy legacyDocument) *Ledger {
	l := New()
	l.migrated = true
	l.dirty = true

	now := time.Now()
	for _, name := range legacy.Downloaded {
		if name == "" {
			continue
		}
		key := MigratedPrefix + name
		if _, exists := l.Records[key]; exists {
			continue
		}
		l.Records[key] = Record{
			ResolvedName: name,
			DeliveredAt:  now,
		}
	}

	return l
}

// Get returns the delivery record for fingerprint, if one exists.
func (l *Ledger) Get(fingerprint string) (Record, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	r, exists := l.Records[fingerprint]
	return r, exists
}

// Contains reports whether fingerprint has a delivery record.
func (l *Ledger) Contains(fingerprint string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, exists := l.Records[fingerprint]
	return exists
}

// Record stores a delivery record in memory. Call Save at end of cycle to
// persist. Must only be called after every enabled backend confirmed the
// commit.
func (l *Ledger) Record(fingerprint, resolvedName, sourceRef string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.Records[fingerprint] = Record{
		ResolvedName: resolvedName,
		SourceRef:    sourceRef,
		DeliveredAt:  time.Now(),
	}
	l.dirty = true
}

// Len returns the number of delivery records.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.Records)
}

// Dirty reports whether the ledger has unsaved changes.
func (l *Ledger) Dirty() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.dirty
}

// Migrated reports whether this ledger was loaded from a legacy schema.
func (l *Ledger) Migrated() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.migrated
}

// Save writes the ledger to path atomically: the document is written to a
// temporary file, synced, and renamed over the previous ledger, so a crash
// mid-write never corrupts existing history.
func (l *Ledger) Save(path string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.LastUpdated = time.Now()
	l.Version = SchemaVersion

	tempPath := path + ".tmp"
	file, err := os.Create(tempPath)
	if err != nil {
		return fmt.Errorf("failed to create temporary ledger file: %w", err)
	}

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(l); err != nil {
		file.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to encode ledger: %w", err)
	}

	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to sync ledger file: %w", err)
	}

	if err := file.Close(); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to close ledger file: %w", err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to replace ledger file: %w", err)
	}

	l.dirty = false
	l.migrated = false
	return nil
}

// Reset deletes the persisted ledger file. Missing files are not an error.
func Reset(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete ledger: %w", err)
	}
	return nil
}
