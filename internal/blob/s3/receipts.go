package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/alanyoungcy/bullbear/internal/domain"
)

// ReceiptArchive implements domain.ReceiptArchive as one JSON object per
// ended round at receipts/{game}/{round}.json. The round number is zero
// padded so listings sort by round.
type ReceiptArchive struct {
	writer domain.BlobWriter
	reader domain.BlobReader
}

// NewReceiptArchive creates a ReceiptArchive over any blob backend.
func NewReceiptArchive(writer domain.BlobWriter, reader domain.BlobReader) *ReceiptArchive {
	return &ReceiptArchive{writer: writer, reader: reader}
}

func receiptPath(gameKey string, roundNumber uint64) string {
	return fmt.Sprintf("receipts/%s/%020d.json", gameKey, roundNumber)
}

// SaveReceipt uploads r. Receipts are write-once: a round that already has
// one keeps it.
func (a *ReceiptArchive) SaveReceipt(ctx context.Context, r domain.Receipt) error {
	path := receiptPath(r.Game.Key, r.Round.Number)
	exists, err := a.reader.Exists(ctx, path)
	if err != nil {
		return fmt.Errorf("s3blob: save receipt: %w", err)
	}
	if exists {
		return nil
	}
	body, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("s3blob: marshal receipt %s: %w", r.ID, err)
	}
	if err := a.writer.Put(ctx, path, bytes.NewReader(body), "application/json"); err != nil {
		return fmt.Errorf("s3blob: save receipt: %w", err)
	}
	return nil
}

// LoadReceipt fetches the receipt of one round.
func (a *ReceiptArchive) LoadReceipt(ctx context.Context, gameKey string, roundNumber uint64) (domain.Receipt, error) {
	body, err := a.reader.Get(ctx, receiptPath(gameKey, roundNumber))
	if err != nil {
		return domain.Receipt{}, err
	}
	defer body.Close()

	data, err := io.ReadAll(body)
	if err != nil {
		return domain.Receipt{}, fmt.Errorf("s3blob: read receipt: %w", err)
	}
	var r domain.Receipt
	if err := json.Unmarshal(data, &r); err != nil {
		return domain.Receipt{}, fmt.Errorf("s3blob: decode receipt: %w", err)
	}
	return r, nil
}

// ListReceipts returns the stored receipts of a game, oldest round first.
func (a *ReceiptArchive) ListReceipts(ctx context.Context, gameKey string) ([]domain.BlobInfo, error) {
	infos, err := a.reader.List(ctx, "receipts/"+gameKey+"/")
	if err != nil {
		return nil, fmt.Errorf("s3blob: list receipts: %w", err)
	}
	return infos, nil
}

var (
	_ domain.ReceiptArchive = (*ReceiptArchive)(nil)
	_ domain.BlobWriter     = (*Writer)(nil)
	_ domain.BlobReader     = (*Reader)(nil)
)
