package archive

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"stockguard/internal/ledger"
	"stockguard/internal/schema"
)

type upload struct {
	key         string
	contentType string
	data        []byte
	metadata    map[string]string
}

type fakeUploader struct {
	uploads []upload
	err     error
}

func (f *fakeUploader) Upload(ctx context.Context, key, contentType string, body io.Reader, metadata map[string]string) error {
	if f.err != nil {
		return f.err
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	f.uploads = append(f.uploads, upload{key: key, contentType: contentType, data: data, metadata: metadata})
	return nil
}

func newTestLedger(t *testing.T, n int) (*ledger.Ledger, *ledger.MemStore) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := ledger.NewMemStore()
	l, err := ledger.New(context.Background(), store, logger)
	if err != nil {
		t.Fatalf("ledger.New: %v", err)
	}
	base := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		_, err := l.Append(context.Background(), ledger.Entry{
			Timestamp:  base.Add(time.Duration(i) * time.Minute),
			ActorID:    "user-1",
			Action:     schema.ActionExit,
			EntityKind: schema.EntityProduct,
			EntityID:   "PROD-0042",
			Quantity:   int64(i + 1),
		})
		if err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}
	return l, store
}

func TestArchiver_Export(t *testing.T) {
	l, _ := newTestLedger(t, 10)
	up := &fakeUploader{}
	a := NewArchiver(l, up, slog.New(slog.NewTextHandler(io.Discard, nil)))

	manifest, err := a.Export(context.Background(), 1, 10)
	if err != nil {
		t.Fatalf("Export() error: %v", err)
	}
	if manifest.FromID != 1 || manifest.ToID != 10 || manifest.Count != 10 {
		t.Errorf("manifest range = %d..%d (%d records)", manifest.FromID, manifest.ToID, manifest.Count)
	}
	if len(up.uploads) != 2 {
		t.Fatalf("uploads = %d, want data object plus manifest", len(up.uploads))
	}

	data := up.uploads[0]
	if data.key != "audit/0000000001-0000000010.ndjson.gz" {
		t.Errorf("data key = %q", data.key)
	}
	sum := sha256.Sum256(data.data)
	if got := hex.EncodeToString(sum[:]); got != manifest.PayloadSHA {
		t.Errorf("payload sha mismatch: %s != %s", got, manifest.PayloadSHA)
	}

	// The object is gzipped JSON lines in id order.
	gz, err := gzip.NewReader(bytes.NewReader(data.data))
	if err != nil {
		t.Fatalf("gzip reader: %v", err)
	}
	var ids []uint64
	sc := bufio.NewScanner(gz)
	for sc.Scan() {
		var r ledger.Record
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			t.Fatalf("decoding line: %v", err)
		}
		ids = append(ids, r.ID)
	}
	if len(ids) != 10 || ids[0] != 1 || ids[9] != 10 {
		t.Errorf("decoded ids = %v", ids)
	}

	man := up.uploads[1]
	if man.key != data.key+".manifest.json" {
		t.Errorf("manifest key = %q", man.key)
	}
	var decoded Manifest
	if err := json.Unmarshal(man.data, &decoded); err != nil {
		t.Fatalf("decoding manifest: %v", err)
	}
	if decoded.LastHash != manifest.LastHash {
		t.Errorf("manifest hash mismatch")
	}
}

func TestArchiver_Export_PartialRange(t *testing.T) {
	l, _ := newTestLedger(t, 10)
	up := &fakeUploader{}
	a := NewArchiver(l, up, slog.New(slog.NewTextHandler(io.Discard, nil)))

	manifest, err := a.Export(context.Background(), 3, 7)
	if err != nil {
		t.Fatalf("Export() error: %v", err)
	}
	if manifest.FromID != 3 || manifest.ToID != 7 || manifest.Count != 5 {
		t.Errorf("manifest range = %d..%d (%d records)", manifest.FromID, manifest.ToID, manifest.Count)
	}
}

func TestArchiver_Export_RefusesTamperedRange(t *testing.T) {
	l, store := newTestLedger(t, 10)
	store.Tamper(5, func(r *ledger.Record) {
		r.Quantity = 9999
	})

	up := &fakeUploader{}
	a := NewArchiver(l, up, slog.New(slog.NewTextHandler(io.Discard, nil)))

	if _, err := a.Export(context.Background(), 1, 10); !errors.Is(err, ErrChainNotIntact) {
		t.Fatalf("Export() error = %v, want ErrChainNotIntact", err)
	}
	if len(up.uploads) != 0 {
		t.Errorf("tampered range must not upload anything, got %d uploads", len(up.uploads))
	}
}

func TestArchiver_Export_TamperOutsideRangeStillExports(t *testing.T) {
	l, store := newTestLedger(t, 10)
	store.Tamper(9, func(r *ledger.Record) {
		r.Quantity = 9999
	})

	up := &fakeUploader{}
	a := NewArchiver(l, up, slog.New(slog.NewTextHandler(io.Discard, nil)))

	if _, err := a.Export(context.Background(), 1, 5); err != nil {
		t.Fatalf("Export() of clean range error: %v", err)
	}
}

func TestArchiver_Export_EmptyRange(t *testing.T) {
	l, _ := newTestLedger(t, 3)
	a := NewArchiver(l, &fakeUploader{}, slog.New(slog.NewTextHandler(io.Discard, nil)))

	if _, err := a.Export(context.Background(), 20, 30); !errors.Is(err, ErrEmptyRange) {
		t.Fatalf("Export() error = %v, want ErrEmptyRange", err)
	}
}

func TestArchiver_Export_UploadFailure(t *testing.T) {
	l, _ := newTestLedger(t, 3)
	a := NewArchiver(l, &fakeUploader{err: errors.New("bucket gone")}, slog.New(slog.NewTextHandler(io.Discard, nil)))

	if _, err := a.Export(context.Background(), 1, 3); err == nil {
		t.Fatal("expected upload error")
	}
}
