package s3blob

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/alanyoungcy/predictex/internal/domain"
)

// multipartThreshold switches uploads to the multipart manager.
const multipartThreshold = minPartSize

// SettlementArchiver implements domain.Archiver. For a resolved or cancelled
// market it exports the market row, every fill, AMM trade and ledger entry,
// and the final positions as one JSONL object:
//
//	{prefix}settlements/{marketID}/{settledAt:20060102T150405Z}.jsonl
//
// Each line is {"type": ..., "data": ...}. Archiving is idempotent: an
// existing object is left untouched.
type SettlementArchiver struct {
	writer domain.BlobWriter
	reader domain.BlobReader
	stores domain.Stores
	prefix string
}

// NewSettlementArchiver creates a SettlementArchiver.
func NewSettlementArchiver(writer domain.BlobWriter, reader domain.BlobReader, stores domain.Stores, prefix string) *SettlementArchiver {
	return &SettlementArchiver{writer: writer, reader: reader, stores: stores, prefix: prefix}
}

type archiveRecord struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// Settlement is a decoded settlement archive.
type Settlement struct {
	Market    domain.Market
	Fills     []domain.Fill
	Trades    []domain.Trade
	Entries   []domain.LedgerEntry
	Positions []domain.Position
}

// ArchiveSettlement uploads the settlement record and returns its key.
func (a *SettlementArchiver) ArchiveSettlement(ctx context.Context, market domain.Market) (string, error) {
	if !market.IsSettled() {
		return "", fmt.Errorf("s3blob: archive %s: status %s: %w", market.ID, market.Status, domain.ErrInvalidTransition)
	}

	path := a.prefix + settlementPath(market)
	exists, err := a.reader.Exists(ctx, path)
	if err != nil {
		return "", err
	}
	if exists {
		return path, nil
	}

	records, err := a.collect(ctx, market)
	if err != nil {
		return "", err
	}
	buf, err := marshalJSONL(records)
	if err != nil {
		return "", fmt.Errorf("s3blob: archive %s marshal: %w", market.ID, err)
	}

	if int64(len(buf)) >= multipartThreshold {
		err = a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), minPartSize)
	} else {
		err = a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson")
	}
	if err != nil {
		return "", fmt.Errorf("s3blob: archive %s upload: %w", market.ID, err)
	}

	if a.stores.Audit != nil {
		if err := a.stores.Audit.Log(ctx, "archive.settlement", map[string]any{
			"market_id": market.ID,
			"path":      path,
			"records":   len(records),
		}); err != nil {
			return path, fmt.Errorf("s3blob: archive %s audit log: %w", market.ID, err)
		}
	}
	return path, nil
}

func (a *SettlementArchiver) collect(ctx context.Context, market domain.Market) ([]archiveRecord, error) {
	records := []archiveRecord{{Type: "market", Data: market}}
	all := domain.ListOpts{}

	fills, err := a.stores.Fills.ListByMarket(ctx, market.ID, all)
	if err != nil {
		return nil, fmt.Errorf("s3blob: archive %s fills: %w", market.ID, err)
	}
	for _, f := range fills {
		records = append(records, archiveRecord{Type: "fill", Data: f})
	}

	trades, err := a.stores.Trades.ListByMarket(ctx, market.ID, all)
	if err != nil {
		return nil, fmt.Errorf("s3blob: archive %s trades: %w", market.ID, err)
	}
	for _, t := range trades {
		records = append(records, archiveRecord{Type: "amm_trade", Data: t})
	}

	entries, err := a.stores.Ledger.ListEntriesByMarket(ctx, market.ID, all)
	if err != nil {
		return nil, fmt.Errorf("s3blob: archive %s entries: %w", market.ID, err)
	}
	for _, e := range entries {
		records = append(records, archiveRecord{Type: "ledger_entry", Data: e})
	}

	positions, err := a.stores.Ledger.ListPositions(ctx)
	if err != nil {
		return nil, fmt.Errorf("s3blob: archive %s positions: %w", market.ID, err)
	}
	for _, p := range positions {
		if p.MarketID == market.ID {
			records = append(records, archiveRecord{Type: "position", Data: p})
		}
	}
	return records, nil
}

// LoadSettlement reads back an archive written by ArchiveSettlement.
func (a *SettlementArchiver) LoadSettlement(ctx context.Context, path string) (Settlement, error) {
	body, err := a.reader.Get(ctx, path)
	if err != nil {
		return Settlement{}, err
	}
	defer body.Close()

	var (
		out  Settlement
		line int
	)
	sc := bufio.NewScanner(body)
	sc.Buffer(make([]byte, 0, 64*1024), 16<<20)
	for sc.Scan() {
		line++
		var rec struct {
			Type string          `json:"type"`
			Data json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal(sc.Bytes(), &rec); err != nil {
			return Settlement{}, fmt.Errorf("s3blob: load %s line %d: %w", path, line, err)
		}
		if err := out.add(rec.Type, rec.Data); err != nil {
			return Settlement{}, fmt.Errorf("s3blob: load %s line %d: %w", path, line, err)
		}
	}
	if err := sc.Err(); err != nil {
		return Settlement{}, fmt.Errorf("s3blob: load %s: %w", path, err)
	}
	if out.Market.ID == "" {
		return Settlement{}, fmt.Errorf("s3blob: load %s: no market record", path)
	}
	return out, nil
}

func (s *Settlement) add(typ string, data json.RawMessage) error {
	switch typ {
	case "market":
		return json.Unmarshal(data, &s.Market)
	case "fill":
		return appendJSON(&s.Fills, data)
	case "amm_trade":
		return appendJSON(&s.Trades, data)
	case "ledger_entry":
		return appendJSON(&s.Entries, data)
	case "position":
		return appendJSON(&s.Positions, data)
	default:
		return fmt.Errorf("unknown record type %q", typ)
	}
}

func appendJSON[T any](dst *[]T, data json.RawMessage) error {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*dst = append(*dst, v)
	return nil
}

// settlementPath builds the object key for a settled market.
func settlementPath(m domain.Market) string {
	at := m.UpdatedAt
	if m.SettledAt != nil {
		at = *m.SettledAt
	}
	return fmt.Sprintf("settlements/%s/%s.jsonl", m.ID, at.UTC().Format("20060102T150405Z"))
}

// marshalJSONL serialises records as newline-delimited JSON.
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

var _ domain.Archiver = (*SettlementArchiver)(nil)
