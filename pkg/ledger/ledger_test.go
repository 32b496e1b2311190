package ledger

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	errs "photowatch/pkg/errors"
	"photowatch/pkg/logger"
)

func ledgerPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "downloaded.json")
}

func TestLoadMissingFileStartsEmpty(t *testing.T) {
	l, err := Load(ledgerPath(t), logger.NewNopLogger())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if l.Len() != 0 {
		t.Errorf("expected empty ledger, got %d records", l.Len())
	}
	if l.Dirty() {
		t.Error("fresh ledger should not be dirty")
	}
}

func TestRecordAndSaveRoundTrip(t *testing.T) {
	path := ledgerPath(t)

	l := New()
	l.Record("f1.jpg", "IMG_0001.JPG", "//cdn/f1.jpg")
	l.Record("f2.jpg", "IMG_0002.JPG", "//cdn/f2.jpg")

	if !l.Dirty() {
		t.Fatal("ledger with records should be dirty")
	}
	if err := l.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if l.Dirty() {
		t.Error("saved ledger should not be dirty")
	}

	loaded, err := Load(path, logger.NewNopLogger())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Len() != 2 {
		t.Fatalf("expected 2 records, got %d", loaded.Len())
	}
	if !loaded.Contains("f1.jpg") || !loaded.Contains("f2.jpg") {
		t.Error("loaded ledger missing recorded fingerprints")
	}
	if loaded.Contains("f3.jpg") {
		t.Error("loaded ledger contains unrecorded fingerprint")
	}

	rec := loaded.Records["f1.jpg"]
	if rec.ResolvedName != "IMG_0001.JPG" {
		t.Errorf("resolved name = %q, want IMG_0001.JPG", rec.ResolvedName)
	}
	if rec.SourceRef != "//cdn/f1.jpg" {
		t.Errorf("source ref = %q", rec.SourceRef)
	}
	if rec.DeliveredAt.IsZero() {
		t.Error("delivered_at not set")
	}
}

func TestSaveIsAtomic(t *testing.T) {
	path := ledgerPath(t)

	l := New()
	l.Record("f1.jpg", "a.jpg", "")
	if err := l.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	// No temp file may survive a completed save.
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Error("temporary ledger file left behind")
	}
}

func TestLoadCorruptLedgerFails(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"not json", "{{{"},
		{"wrong shape", `{"something": 1}`},
		{"unknown version", `{"version": "9", "records": {}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := ledgerPath(t)
			if err := os.WriteFile(path, []byte(tt.data), 0644); err != nil {
				t.Fatal(err)
			}

			_, err := Load(path, logger.NewNopLogger())
			if err == nil {
				t.Fatal("expected corrupt ledger error, got nil")
			}

			var typed *errs.Error
			if !errors.As(err, &typed) || typed.Type != errs.ErrorTypeCorruptLedger {
				t.Errorf("expected corrupt_ledger error, got %v", err)
			}
		})
	}
}

func TestMigrateLegacyLedger(t *testing.T) {
	legacy := `{"downloaded": ["IMG_0001.JPG", "IMG_0002.JPG", "IMG_0001.JPG"]}`

	path := ledgerPath(t)
	if err := os.WriteFile(path, []byte(legacy), 0644); err != nil {
		t.Fatal(err)
	}

	l, err := Load(path, logger.NewNopLogger())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if !l.Migrated() {
		t.Error("expected migrated ledger")
	}
	if !l.Dirty() {
		t.Error("migrated ledger must be dirty so the caller persists the new schema")
	}
	if l.Len() != 2 {
		t.Fatalf("expected 2 migrated records (duplicate collapsed), got %d", l.Len())
	}
	if !l.Contains("migrated_IMG_0001.JPG") || !l.Contains("migrated_IMG_0002.JPG") {
		t.Error("migrated keys missing prefix mapping")
	}
	if l.Records["migrated_IMG_0001.JPG"].ResolvedName != "IMG_0001.JPG" {
		t.Error("migrated record lost its original identifier")
	}
}

func TestMigrationDeterminism(t *testing.T) {
	legacy := `{"downloaded": ["a.jpg", "b.jpg", "c.jpg"]}`

	first, err := decode([]byte(legacy))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	second, err := decode([]byte(legacy))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	keysOf := func(l *Ledger) map[string]string {
		m := make(map[string]string)
		for k, v := range l.Records {
			m[k] = v.ResolvedName
		}
		return m
	}

	if !reflect.DeepEqual(keysOf(first), keysOf(second)) {
		t.Errorf("migration not deterministic: %v vs %v", keysOf(first), keysOf(second))
	}
}

func TestSavedDocumentShape(t *testing.T) {
	path := ledgerPath(t)

	l := New()
	l.Record("f1.jpg", "a.jpg", "//cdn/f1.jpg")
	if err := l.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}

	var doc map[string]json.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("saved ledger is not valid JSON: %v", err)
	}
	for _, key := range []string{"version", "records", "last_updated"} {
		if _, ok := doc[key]; !ok {
			t.Errorf("saved document missing %q", key)
		}
	}
}

func TestReset(t *testing.T) {
	path := ledgerPath(t)

	l := New()
	l.Record("f1.jpg", "a.jpg", "")
	if err := l.Save(path); err != nil {
		t.Fatal(err)
	}

	if err := Reset(path); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("ledger file still exists after reset")
	}

	// Resetting a missing file is fine.
	if err := Reset(path); err != nil {
		t.Errorf("Reset on missing file: %v", err)
	}
}
