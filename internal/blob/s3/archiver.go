package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alanyoungcy/copytraderbot/internal/domain"
)

// multipartThreshold is the payload size above which the archiver switches
// from a single PutObject to a multipart upload.
const multipartThreshold = 8 * 1024 * 1024

// FillArchiveStore is the read surface the archiver needs: one day of
// observed fills. The Postgres fill log satisfies it.
type FillArchiveStore interface {
	ListByDay(ctx context.Context, date string) ([]domain.LeaderFillEvent, error)
}

// archivedFill is the JSONL row written to cold storage: normalized fields
// plus the untouched source payload.
type archivedFill struct {
	DedupeKey   string          `json:"dedupe_key"`
	LeaderID    string          `json:"leader_id"`
	Wallet      string          `json:"wallet"`
	Source      string          `json:"source"`
	Role        string          `json:"role,omitempty"`
	TokenID     string          `json:"token_id"`
	ConditionID string          `json:"condition_id,omitempty"`
	Side        string          `json:"side"`
	Price       string          `json:"price"`
	Size        string          `json:"size"`
	UsdcSize    string          `json:"usdc_size"`
	TxHash      string          `json:"tx_hash,omitempty"`
	LogIndex    uint            `json:"log_index,omitempty"`
	IsBackfill  bool            `json:"is_backfill,omitempty"`
	FillTs      time.Time       `json:"fill_ts"`
	DetectedAt  time.Time       `json:"detected_at"`
	Raw         json.RawMessage `json:"raw,omitempty"`
}

// Archiver implements domain.FillArchiver: it serializes one UTC day of
// observed leader fills to JSONL and uploads the file to object storage.
// Archiving never deletes from the primary store; retention there is a
// separate operational concern.
type Archiver struct {
	writer domain.BlobWriter
	reader *Reader
	fills  FillArchiveStore
	prefix string
}

// NewArchiver creates an Archiver writing under the given key prefix.
func NewArchiver(writer domain.BlobWriter, reader *Reader, fills FillArchiveStore, prefix string) *Archiver {
	if prefix == "" {
		prefix = "archive"
	}
	return &Archiver{
		writer: writer,
		reader: reader,
		fills:  fills,
		prefix: prefix,
	}
}

// ArchiveFills uploads the given UTC day's fills to
// {prefix}/fills/YYYY-MM-DD.jsonl and returns the record count. A day whose
// archive object already exists is skipped, making the daily job safe to
// re-run.
func (a *Archiver) ArchiveFills(ctx context.Context, day time.Time) (int64, error) {
	date := day.UTC().Format("2006-01-02")
	path := fmt.Sprintf("%s/fills/%s.jsonl", a.prefix, date)

	if a.reader != nil {
		exists, err := a.reader.Exists(ctx, path)
		if err != nil {
			return 0, fmt.Errorf("s3blob: archive fills check %s: %w", path, err)
		}
		if exists {
			return 0, nil
		}
	}

	fills, err := a.fills.ListByDay(ctx, date)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive fills query %s: %w", date, err)
	}
	if len(fills) == 0 {
		return 0, nil
	}

	rows := make([]archivedFill, 0, len(fills))
	for _, ev := range fills {
		row := archivedFill{
			DedupeKey:   ev.DedupeKey,
			LeaderID:    ev.Leader.ID,
			Wallet:      ev.Leader.Wallet,
			Source:      string(ev.Source),
			Role:        string(ev.Role),
			TokenID:     ev.TokenID,
			ConditionID: ev.ConditionID,
			Side:        string(ev.Side),
			Price:       ev.Price.String(),
			Size:        ev.Size.String(),
			UsdcSize:    ev.UsdcSize.String(),
			IsBackfill:  ev.IsBackfill,
			FillTs:      ev.FillTs,
			DetectedAt:  ev.DetectedAt,
			Raw:         ev.Raw,
		}
		if ev.Chain != nil {
			row.TxHash = ev.Chain.TxHash
			row.LogIndex = ev.Chain.LogIndex
		}
		rows = append(rows, row)
	}

	buf, err := marshalJSONL(rows)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive fills marshal: %w", err)
	}

	if int64(len(buf)) >= multipartThreshold {
		err = a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), minPartSize)
	} else {
		err = a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson")
	}
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive fills upload: %w", err)
	}

	return int64(len(rows)), nil
}

// marshalJSONL serialises a slice of values as newline-delimited JSON.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

// Compile-time interface check.
var _ domain.FillArchiver = (*Archiver)(nil)
