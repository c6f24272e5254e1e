// Package archive exports verified audit ledger ranges to object
// storage for long-term retention.
package archive

import (
	"bytes"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"time"

	"stockguard/internal/ledger"
)

var (
	// ErrChainNotIntact indicates the requested range failed hash chain
	// verification. Tampered records are never archived.
	ErrChainNotIntact = errors.New("archive: hash chain broken in requested range")

	// ErrEmptyRange indicates the requested range holds no records.
	ErrEmptyRange = errors.New("archive: no records in requested range")
)

// Uploader stores archive objects. The S3 client implements it.
type Uploader interface {
	Upload(ctx context.Context, key, contentType string, body io.Reader, metadata map[string]string) error
}

// Config holds archiver settings.
type Config struct {
	Enabled bool     `yaml:"enabled"`
	S3      S3Config `yaml:"s3"`
}

// DefaultConfig returns archiving defaults. Archiving is opt-in.
func DefaultConfig() Config {
	return Config{
		Enabled: false,
		S3:      DefaultS3Config(),
	}
}

// Manifest describes one exported range. It is uploaded next to the
// data object so an auditor can check the export without downloading it.
type Manifest struct {
	Key        string    `json:"key"`
	FromID     uint64    `json:"from_id"`
	ToID       uint64    `json:"to_id"`
	Count      int       `json:"count"`
	FirstHash  string    `json:"first_hash"`
	LastHash   string    `json:"last_hash"`
	PayloadSHA string    `json:"payload_sha256"`
	SizeBytes  int       `json:"size_bytes"`
	CreatedAt  time.Time `json:"created_at"`
}

// Archiver exports ledger ranges as gzipped JSON lines.
type Archiver struct {
	ledger   *ledger.Ledger
	uploader Uploader
	logger   *slog.Logger
	now      func() time.Time
}

// NewArchiver creates an archiver over the given ledger.
func NewArchiver(l *ledger.Ledger, uploader Uploader, logger *slog.Logger) *Archiver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Archiver{
		ledger:   l,
		uploader: uploader,
		logger:   logger,
		now:      time.Now,
	}
}

// Export verifies the range [fromID, toID] and uploads it as one
// gzipped object plus a manifest. A range with any broken record is
// refused outright.
func (a *Archiver) Export(ctx context.Context, fromID, toID uint64) (*Manifest, error) {
	if fromID == 0 {
		fromID = 1
	}
	if toID < fromID {
		return nil, fmt.Errorf("archive: invalid range %d..%d", fromID, toID)
	}

	intact, broken, err := a.ledger.VerifyChain(ctx, fromID)
	if err != nil {
		return nil, fmt.Errorf("archive: verification failed: %w", err)
	}
	if !intact {
		for _, id := range broken {
			if id >= fromID && id <= toID {
				a.logger.Error("refusing to archive tampered range",
					"from_id", fromID, "to_id", toID, "broken_record", id)
				return nil, ErrChainNotIntact
			}
		}
	}

	records, err := a.ledger.Query(ctx, ledger.Filter{
		FromID: fromID,
		Order:  ledger.OrderIDAsc,
	})
	if err != nil {
		return nil, fmt.Errorf("archive: range query failed: %w", err)
	}

	var inRange []*ledger.Record
	for _, r := range records {
		if r.ID > toID {
			break
		}
		inRange = append(inRange, r)
	}
	if len(inRange) == 0 {
		return nil, ErrEmptyRange
	}

	payload, err := encodeRange(inRange)
	if err != nil {
		return nil, err
	}
	sum := sha256.Sum256(payload)

	first, last := inRange[0], inRange[len(inRange)-1]
	manifest := &Manifest{
		Key:        rangeKey(first.ID, last.ID),
		FromID:     first.ID,
		ToID:       last.ID,
		Count:      len(inRange),
		FirstHash:  first.Hash,
		LastHash:   last.Hash,
		PayloadSHA: hex.EncodeToString(sum[:]),
		SizeBytes:  len(payload),
		CreatedAt:  a.now().UTC(),
	}

	meta := map[string]string{
		"from-id":    strconv.FormatUint(manifest.FromID, 10),
		"to-id":      strconv.FormatUint(manifest.ToID, 10),
		"last-hash":  manifest.LastHash,
		"record-cnt": strconv.Itoa(manifest.Count),
	}
	if err := a.uploader.Upload(ctx, manifest.Key, "application/gzip", bytes.NewReader(payload), meta); err != nil {
		return nil, fmt.Errorf("archive: uploading records: %w", err)
	}

	manifestJSON, err := json.Marshal(manifest)
	if err != nil {
		return nil, fmt.Errorf("archive: encoding manifest: %w", err)
	}
	if err := a.uploader.Upload(ctx, manifest.Key+".manifest.json", "application/json",
		bytes.NewReader(manifestJSON), nil); err != nil {
		return nil, fmt.Errorf("archive: uploading manifest: %w", err)
	}

	a.logger.Info("ledger range archived",
		"key", manifest.Key,
		"from_id", manifest.FromID,
		"to_id", manifest.ToID,
		"records", manifest.Count,
		"bytes", manifest.SizeBytes,
	)
	return manifest, nil
}

func rangeKey(fromID, toID uint64) string {
	return fmt.Sprintf("audit/%010d-%010d.ndjson.gz", fromID, toID)
}

// encodeRange writes records as gzip-compressed JSON lines in id order.
func encodeRange(records []*ledger.Record) ([]byte, error) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	enc := json.NewEncoder(gz)
	for _, r := range records {
		if err := enc.Encode(r); err != nil {
			return nil, fmt.Errorf("archive: encoding record %d: %w", r.ID, err)
		}
	}
	if err := gz.Close(); err != nil {
		return nil, fmt.Errorf("archive: compressing records: %w", err)
	}
	return buf.Bytes(), nil
}
