package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alanyoungcy/predictx/internal/domain"
)

const (
	jsonlContentType = "application/x-ndjson"
	// multipartThreshold switches uploads to the multipart manager.
	multipartThreshold = 16 << 20
)

// MarketArchiveStore is the subset of domain.MarketStore the archiver reads.
type MarketArchiveStore interface {
	ListResolvedBefore(ctx context.Context, before time.Time) ([]domain.Market, error)
	ListBets(ctx context.Context, marketID string) ([]domain.Bet, error)
}

// PredictionArchiveStore is the subset of domain.PredictionStore the
// archiver reads.
type PredictionArchiveStore interface {
	ListEvaluated(ctx context.Context) ([]domain.Prediction, error)
}

// Archiver implements domain.Archiver. Each run writes every qualifying
// record to archive/<kind>/YYYY-MM.jsonl for the cutoff month. Records are
// never deleted from the primary store, so a rerun overwrites the object
// with a superset of its previous content.
type Archiver struct {
	writer      domain.BlobWriter
	markets     MarketArchiveStore
	predictions PredictionArchiveStore
	audit       domain.AuditStore
}

func NewArchiver(
	writer domain.BlobWriter,
	markets MarketArchiveStore,
	predictions PredictionArchiveStore,
	audit domain.AuditStore,
) *Archiver {
	return &Archiver{
		writer:      writer,
		markets:     markets,
		predictions: predictions,
		audit:       audit,
	}
}

// ArchiveMarkets exports markets resolved before the cutoff and their bets.
// It returns the number of markets archived.
func (a *Archiver) ArchiveMarkets(ctx context.Context, before time.Time) (int64, error) {
	markets, err := a.markets.ListResolvedBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive markets query: %w", err)
	}
	if len(markets) == 0 {
		return 0, nil
	}

	var bets []domain.Bet
	for _, m := range markets {
		mb, err := a.markets.ListBets(ctx, m.ID)
		if err != nil {
			return 0, fmt.Errorf("s3blob: archive bets of %s: %w", m.ID, err)
		}
		bets = append(bets, mb...)
	}

	if err := uploadJSONL(ctx, a.writer, "markets", before, markets); err != nil {
		return 0, err
	}
	if len(bets) > 0 {
		if err := uploadJSONL(ctx, a.writer, "bets", before, bets); err != nil {
			return 0, err
		}
	}

	count := int64(len(markets))
	if err := a.audit.Log(ctx, "archive.markets", map[string]any{
		"path":   archivePath("markets", before),
		"count":  count,
		"bets":   len(bets),
		"before": before.Format(time.RFC3339),
	}); err != nil {
		return count, fmt.Errorf("s3blob: archive markets audit log: %w", err)
	}
	return count, nil
}

// ArchivePredictions exports predictions evaluated before the cutoff.
func (a *Archiver) ArchivePredictions(ctx context.Context, before time.Time) (int64, error) {
	evaluated, err := a.predictions.ListEvaluated(ctx)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive predictions query: %w", err)
	}
	var preds []domain.Prediction
	for _, p := range evaluated {
		if p.EvaluatedAt != nil && p.EvaluatedAt.Before(before) {
			preds = append(preds, p)
		}
	}
	if len(preds) == 0 {
		return 0, nil
	}

	if err := uploadJSONL(ctx, a.writer, "predictions", before, preds); err != nil {
		return 0, err
	}

	count := int64(len(preds))
	if err := a.audit.Log(ctx, "archive.predictions", map[string]any{
		"path":   archivePath("predictions", before),
		"count":  count,
		"before": before.Format(time.RFC3339),
	}); err != nil {
		return count, fmt.Errorf("s3blob: archive predictions audit log: %w", err)
	}
	return count, nil
}

func uploadJSONL[T any](ctx context.Context, w domain.BlobWriter, kind string, before time.Time, records []T) error {
	buf, err := marshalJSONL(records)
	if err != nil {
		return fmt.Errorf("s3blob: archive %s marshal: %w", kind, err)
	}
	path := archivePath(kind, before)
	if len(buf) >= multipartThreshold {
		err = w.PutMultipart(ctx, path, bytes.NewReader(buf), 0)
	} else {
		err = w.Put(ctx, path, bytes.NewReader(buf), jsonlContentType)
	}
	if err != nil {
		return fmt.Errorf("s3blob: archive %s upload: %w", kind, err)
	}
	return nil
}

// archivePath partitions archives by the cutoff's month:
//
//	archive/markets/2026-01.jsonl
func archivePath(kind string, before time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, before.UTC().Format("2006-01"))
}

// marshalJSONL encodes each record as one compact JSON line.
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

var (
	_ domain.Archiver   = (*Archiver)(nil)
	_ domain.BlobWriter = (*Writer)(nil)
	_ domain.BlobReader = (*Reader)(nil)
)
