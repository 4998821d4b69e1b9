package store

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type samplePayload struct {
	Name  string   `json:"name"`
	Items []string `json:"items"`
}

type failingBackend struct {
	*MemoryBackend
	putErr error
}

func (b failingBackend) Put(string, []byte) error {
	return b.putErr
}

func newMemoryStore(t *testing.T, quota int64, logger *zap.Logger) (*KeyValueStore, *MemoryBackend) {
	t.Helper()
	backend := NewMemoryBackend()
	kv, err := New(Config{Backend: backend, QuotaBytes: quota, Logger: logger})
	if err != nil {
		t.Fatalf("unexpected constructor error: %v", err)
	}
	return kv, backend
}

func TestReadReturnsDefaultForMissingKey(t *testing.T) {
	kv, _ := newMemoryStore(t, 0, nil)

	fallback := samplePayload{Name: "default"}
	got := ReadOr(kv, "absent", fallback)
	if got.Name != "default" {
		t.Fatalf("expected default payload, got %#v", got)
	}
}

func TestReadDegradesCorruptValueToDefault(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	kv, backend := newMemoryStore(t, 0, zap.New(core))
	if err := backend.Put("broken", []byte(`{"name":`)); err != nil {
		t.Fatalf("failed to seed backend: %v", err)
	}

	target := samplePayload{Name: "default", Items: []string{"kept"}}
	if kv.Read("broken", &target) {
		t.Fatalf("expected corrupt value to report not found")
	}
	if target.Name != "default" || len(target.Items) != 1 {
		t.Fatalf("corrupt read must leave target untouched, got %#v", target)
	}
	if logs.FilterMessage("storage value unreadable, using default").Len() != 1 {
		t.Fatalf("expected a warning for the unreadable value, got %v", logs.All())
	}
}

func TestReadRejectsNonPointerTarget(t *testing.T) {
	kv, _ := newMemoryStore(t, 0, nil)
	if err := kv.Write("key", samplePayload{Name: "x"}); err != nil {
		t.Fatalf("unexpected write error: %v", err)
	}
	if kv.Read("key", samplePayload{}) {
		t.Fatalf("expected non-pointer target to be rejected")
	}
}

func TestWriteThenReadRoundTrips(t *testing.T) {
	kv, _ := newMemoryStore(t, 0, nil)
	if err := kv.Write("key", samplePayload{Name: "stored", Items: []string{"a", "b"}}); err != nil {
		t.Fatalf("unexpected write error: %v", err)
	}
	var got samplePayload
	if !kv.Read("key", &got) {
		t.Fatalf("expected stored value")
	}
	if got.Name != "stored" || len(got.Items) != 2 {
		t.Fatalf("unexpected payload %#v", got)
	}
}

func TestWriteClassifiesQuotaExceeded(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	kv, _ := newMemoryStore(t, 32, zap.New(core))

	err := kv.Write("key", samplePayload{Name: strings.Repeat("x", 64)})
	if !errors.Is(err, ErrQuotaExceeded) {
		t.Fatalf("expected quota error, got %v", err)
	}
	if !errors.Is(err, ErrStorageWriteFailed) {
		t.Fatalf("quota error must also classify as a write failure")
	}
	if logs.FilterMessage("storage quota exceeded, consider clearing old data").Len() != 1 {
		t.Fatalf("expected quota log entry, got %v", logs.All())
	}
}

func TestWriteQuotaIgnoresValueBeingReplaced(t *testing.T) {
	kv, _ := newMemoryStore(t, 40, nil)
	if err := kv.Write("key", samplePayload{Name: strings.Repeat("a", 10)}); err != nil {
		t.Fatalf("unexpected write error: %v", err)
	}
	if err := kv.Write("key", samplePayload{Name: strings.Repeat("b", 10)}); err != nil {
		t.Fatalf("replacing a value of equal size must fit the quota: %v", err)
	}
}

func TestWriteClassifiesBackendFailure(t *testing.T) {
	backend := failingBackend{MemoryBackend: NewMemoryBackend(), putErr: errors.New("disk detached")}
	kv, err := New(Config{Backend: backend})
	if err != nil {
		t.Fatalf("unexpected constructor error: %v", err)
	}

	err = kv.Write("key", samplePayload{})
	if !errors.Is(err, ErrStorageWriteFailed) {
		t.Fatalf("expected write failure, got %v", err)
	}
	if errors.Is(err, ErrQuotaExceeded) {
		t.Fatalf("generic failure must not classify as quota")
	}
}

func TestClearAppDataPreservesSession(t *testing.T) {
	kv, _ := newMemoryStore(t, 0, nil)
	for _, key := range []string{SessionKey, "irontemple_settings", "irontemple_workouts"} {
		if err := kv.Write(key, samplePayload{Name: key}); err != nil {
			t.Fatalf("unexpected write error: %v", err)
		}
	}

	if err := kv.ClearAppData(); err != nil {
		t.Fatalf("unexpected clear error: %v", err)
	}

	usage, err := kv.Stats()
	if err != nil {
		t.Fatalf("unexpected stats error: %v", err)
	}
	if len(usage.Keys) != 1 || usage.Keys[0] != SessionKey {
		t.Fatalf("expected only the session key to remain, got %v", usage.Keys)
	}
}

func TestStatsReportsNearLimit(t *testing.T) {
	kv, _ := newMemoryStore(t, 100, nil)
	if err := kv.Write("k", samplePayload{Name: strings.Repeat("z", 60)}); err != nil {
		t.Fatalf("unexpected write error: %v", err)
	}
	usage, err := kv.Stats()
	if err != nil {
		t.Fatalf("unexpected stats error: %v", err)
	}
	if !usage.NearLimit {
		t.Fatalf("expected near limit at %.1f%%", usage.UsagePercentage)
	}
	if usage.TotalBytes <= 60 {
		t.Fatalf("unexpected total bytes %d", usage.TotalBytes)
	}
}

func TestFileBackendPersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "state.json")
	backend, err := OpenFileBackend(path, nil)
	if err != nil {
		t.Fatalf("failed to open file backend: %v", err)
	}
	kv, err := New(Config{Backend: backend})
	if err != nil {
		t.Fatalf("unexpected constructor error: %v", err)
	}
	if err := kv.Write("key", samplePayload{Name: "durable"}); err != nil {
		t.Fatalf("unexpected write error: %v", err)
	}
	if err := kv.Write("other", samplePayload{Name: "gone"}); err != nil {
		t.Fatalf("unexpected write error: %v", err)
	}
	if err := kv.Remove("other"); err != nil {
		t.Fatalf("unexpected remove error: %v", err)
	}

	reopened, err := OpenFileBackend(path, nil)
	if err != nil {
		t.Fatalf("failed to reopen file backend: %v", err)
	}
	reopenedStore, err := New(Config{Backend: reopened})
	if err != nil {
		t.Fatalf("unexpected constructor error: %v", err)
	}
	got := ReadOr(reopenedStore, "key", samplePayload{})
	if got.Name != "durable" {
		t.Fatalf("expected persisted payload, got %#v", got)
	}
	if reopenedStore.Read("other", &samplePayload{}) {
		t.Fatalf("removed key must not survive reopen")
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Fatalf("temp file must not linger after atomic write")
	}
}

func TestFileBackendQuarantinesCorruptFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatalf("failed to seed corrupt file: %v", err)
	}

	backend, err := OpenFileBackend(path, nil)
	if err != nil {
		t.Fatalf("corrupt file must not fail open: %v", err)
	}
	keys, _ := backend.Keys()
	if len(keys) != 0 {
		t.Fatalf("expected empty backend, got %v", keys)
	}
	matches, _ := filepath.Glob(filepath.Join(dir, "state.json.corrupt-*"))
	if len(matches) != 1 {
		t.Fatalf("expected corrupt file to be moved aside, got %v", matches)
	}
}

func TestSQLiteBackendRoundTrip(t *testing.T) {
	backend, err := OpenSQLite(filepath.Join(t.TempDir(), "store.db"), zap.NewNop())
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	defer backend.Close()

	kv, err := New(Config{Backend: backend})
	if err != nil {
		t.Fatalf("unexpected constructor error: %v", err)
	}
	if err := kv.Write("key", samplePayload{Name: "first"}); err != nil {
		t.Fatalf("unexpected write error: %v", err)
	}
	if err := kv.Write("key", samplePayload{Name: "second"}); err != nil {
		t.Fatalf("unexpected overwrite error: %v", err)
	}

	got := ReadOr(kv, "key", samplePayload{})
	if got.Name != "second" {
		t.Fatalf("expected upserted value, got %#v", got)
	}
	keys, err := backend.Keys()
	if err != nil {
		t.Fatalf("unexpected keys error: %v", err)
	}
	if len(keys) != 1 {
		t.Fatalf("expected a single row after upsert, got %v", keys)
	}
	if err := kv.Remove("key"); err != nil {
		t.Fatalf("unexpected remove error: %v", err)
	}
	if kv.Read("key", &got) {
		t.Fatalf("expected removed key to be absent")
	}
}
