package s3blob

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/friendbet/internal/domain"
	"github.com/alanyoungcy/friendbet/internal/engine"
)

const (
	settlementPrefix = "settlements/"
	archivePageSize  = 500
)

// SettlementLister provides read access to durable settlement records.
type SettlementLister interface {
	ListSettlements(ctx context.Context, opts domain.ListOpts) ([]domain.SettlementRecord, error)
}

// ArchiveImpl implements domain.Archiver by copying settlement records to
// object storage as JSONL. Each run covers the window from the previous
// run's cutoff to the new one; the cutoff is encoded in the object name.
//
// Records stay in the primary store. Archives are append-only copies.
type ArchiveImpl struct {
	writer      domain.BlobWriter
	reader      domain.BlobReader
	settlements SettlementLister
	audit       domain.AuditStore
}

// NewArchiver creates a new ArchiveImpl. audit may be nil.
func NewArchiver(
	writer domain.BlobWriter,
	reader domain.BlobReader,
	settlements SettlementLister,
	audit domain.AuditStore,
) *ArchiveImpl {
	return &ArchiveImpl{
		writer:      writer,
		reader:      reader,
		settlements: settlements,
		audit:       audit,
	}
}

// ArchiveSettlements uploads every record settled since the last archive and
// before the cutoff to settlements/YYYY/MM/DD/<cutoff unix>.jsonl, records
// the run in the audit log and returns the number of records written.
func (a *ArchiveImpl) ArchiveSettlements(ctx context.Context, before time.Time) (int64, error) {
	before = before.UTC().Truncate(time.Second)

	since, err := a.lastCutoff(ctx)
	if err != nil {
		return 0, err
	}
	if since != nil && !since.Before(before) {
		return 0, nil
	}

	var recs []domain.SettlementRecord
	for offset := 0; ; offset += archivePageSize {
		page, err := a.settlements.ListSettlements(ctx, domain.ListOpts{
			Limit:  archivePageSize,
			Offset: offset,
			Since:  since,
			Until:  &before,
		})
		if err != nil {
			return 0, fmt.Errorf("s3blob: archive settlements query: %w", err)
		}
		recs = append(recs, page...)
		if len(page) < archivePageSize {
			break
		}
	}
	if len(recs) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(recs)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive settlements marshal: %w", err)
	}

	key := archivePath(before)
	if int64(len(buf)) > minPartSize {
		err = a.writer.PutMultipart(ctx, key, bytes.NewReader(buf), minPartSize)
	} else {
		err = a.writer.Put(ctx, key, bytes.NewReader(buf), "application/x-ndjson")
	}
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive settlements upload: %w", err)
	}

	count := int64(len(recs))
	if a.audit == nil {
		return count, nil
	}
	detail := map[string]any{
		"path":   key,
		"count":  count,
		"before": before.Format(time.RFC3339),
	}
	if since != nil {
		detail["since"] = since.Format(time.RFC3339)
	}
	if err := a.audit.Log(ctx, "archive.settlements", detail); err != nil {
		return count, fmt.Errorf("s3blob: archive settlements audit log: %w", err)
	}
	return count, nil
}

// lastCutoff finds the newest cutoff already archived, or nil when nothing
// has been archived yet.
func (a *ArchiveImpl) lastCutoff(ctx context.Context) (*time.Time, error) {
	infos, err := a.reader.List(ctx, settlementPrefix)
	if err != nil {
		return nil, fmt.Errorf("s3blob: list archives: %w", err)
	}
	var latest *time.Time
	for _, info := range infos {
		ts, ok := cutoffFromPath(info.Path)
		if !ok {
			continue
		}
		if latest == nil || ts.After(*latest) {
			latest = &ts
		}
	}
	return latest, nil
}

// VerifyArchive reads an archive back and re-derives the price and winner of
// every record. It returns the number of records checked and fails on the
// first record that does not verify.
func VerifyArchive(ctx context.Context, reader domain.BlobReader, key string) (int, error) {
	rc, err := reader.Get(ctx, key)
	if err != nil {
		return 0, fmt.Errorf("s3blob: verify archive: %w", err)
	}
	defer rc.Close()

	sc := bufio.NewScanner(rc)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	n := 0
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		var rec domain.SettlementRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			return n, fmt.Errorf("s3blob: verify archive %s line %d: %w", key, n+1, err)
		}
		if err := engine.VerifySettlement(rec); err != nil {
			return n, fmt.Errorf("s3blob: verify archive %s bet %s: %w", key, rec.BetID, err)
		}
		n++
	}
	if err := sc.Err(); err != nil {
		return n, fmt.Errorf("s3blob: verify archive %s: %w", key, err)
	}
	return n, nil
}

// archivePath builds the object key for an archive, partitioned by the
// cutoff date.
//
//	settlements/2025/01/31/1738281600.jsonl
func archivePath(before time.Time) string {
	before = before.UTC()
	return fmt.Sprintf("%s%s/%d.jsonl", settlementPrefix, before.Format("2006/01/02"), before.Unix())
}

func cutoffFromPath(key string) (time.Time, bool) {
	if !strings.HasPrefix(key, settlementPrefix) {
		return time.Time{}, false
	}
	name, ok := strings.CutSuffix(path.Base(key), ".jsonl")
	if !ok {
		return time.Time{}, false
	}
	unix, err := strconv.ParseInt(name, 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.Unix(unix, 0).UTC(), true
}

// marshalJSONL serialises a slice of values as newline-delimited JSON (JSONL).
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

var _ domain.Archiver = (*ArchiveImpl)(nil)
