package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/copytraderbot/internal/domain"
)

type fakeWriter struct {
	path        string
	contentType string
	payload     []byte
	multipart   bool
}

func (f *fakeWriter) Put(_ context.Context, path string, data io.Reader, contentType string) error {
	buf, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	f.path, f.contentType, f.payload = path, contentType, buf
	return nil
}

func (f *fakeWriter) PutMultipart(_ context.Context, path string, data io.Reader, _ int64) error {
	buf, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	f.path, f.payload, f.multipart = path, buf, true
	return nil
}

type fakeFillStore struct {
	fills []domain.LeaderFillEvent
}

func (f *fakeFillStore) ListByDay(context.Context, string) ([]domain.LeaderFillEvent, error) {
	return f.fills, nil
}

func observedFill(key string, raw json.RawMessage) domain.LeaderFillEvent {
	return domain.LeaderFillEvent{
		Leader:     domain.Leader{ID: "whale", Wallet: "0xabc"},
		Source:     domain.FillSourceOnChain,
		DedupeKey:  key,
		TokenID:    "tok",
		Side:       domain.SideBuy,
		Price:      decimal.RequireFromString("0.50"),
		Size:       decimal.NewFromInt(100),
		UsdcSize:   decimal.NewFromInt(50),
		Chain:      &domain.ChainIdentity{TxHash: "0xdead", LogIndex: 3},
		FillTs:     time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC),
		DetectedAt: time.Date(2026, 8, 28, 10, 0, 1, 0, time.UTC),
		Raw:        raw,
	}
}

func TestArchiveFills_WritesJSONL(t *testing.T) {
	writer := &fakeWriter{}
	store := &fakeFillStore{fills: []domain.LeaderFillEvent{
		observedFill("0xdead:3", json.RawMessage(`{"id":"a"}`)),
		observedFill("0xdead:4", nil),
	}}
	a := NewArchiver(writer, nil, store, "archive")

	n, err := a.ArchiveFills(context.Background(), time.Date(2026, 8, 28, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.Equal(t, "archive/fills/2026-08-28.jsonl", writer.path)
	assert.Equal(t, "application/x-ndjson", writer.contentType)
	assert.False(t, writer.multipart)

	lines := bytes.Split(bytes.TrimSpace(writer.payload), []byte("\n"))
	require.Len(t, lines, 2)

	var row struct {
		DedupeKey string          `json:"dedupe_key"`
		TxHash    string          `json:"tx_hash"`
		Price     string          `json:"price"`
		Raw       json.RawMessage `json:"raw"`
	}
	require.NoError(t, json.Unmarshal(lines[0], &row))
	assert.Equal(t, "0xdead:3", row.DedupeKey)
	assert.Equal(t, "0xdead", row.TxHash)
	assert.Equal(t, "0.5", row.Price)
	assert.JSONEq(t, `{"id":"a"}`, string(row.Raw))
}

func TestArchiveFills_EmptyDayWritesNothing(t *testing.T) {
	writer := &fakeWriter{}
	a := NewArchiver(writer, nil, &fakeFillStore{}, "archive")

	n, err := a.ArchiveFills(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, writer.path)
}

func TestArchiveFills_LargeDayUsesMultipart(t *testing.T) {
	big := json.RawMessage(`"` + strings.Repeat("x", multipartThreshold) + `"`)
	writer := &fakeWriter{}
	store := &fakeFillStore{fills: []domain.LeaderFillEvent{observedFill("0xdead:3", big)}}
	a := NewArchiver(writer, nil, store, "archive")

	n, err := a.ArchiveFills(context.Background(), time.Date(2026, 8, 28, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.True(t, writer.multipart)
}
