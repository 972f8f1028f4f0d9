package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/royaltymarket/internal/domain"
)

// EventsPrefix is where monthly event archives are written.
const EventsPrefix = "archive/events/"

// AuditHistory is the read side of the audit log the archiver needs. Both
// audit store backends provide it.
type AuditHistory interface {
	// ListBefore returns entries created strictly before the cutoff, oldest
	// first.
	ListBefore(ctx context.Context, before time.Time) ([]domain.AuditEntry, error)
}

// archivedEvent is one JSONL line.
type archivedEvent struct {
	ID        int64          `json:"id"`
	Event     string         `json:"event"`
	Detail    map[string]any `json:"detail"`
	CreatedAt time.Time      `json:"created_at"`
}

// EventArchiver implements domain.Archiver. It copies audit history into one
// JSONL object per UTC month at archive/events/YYYY-MM.jsonl. Rows are never
// deleted from the primary store; re-running over the same range rewrites
// the same objects.
type EventArchiver struct {
	writer  domain.BlobWriter
	reader  domain.BlobReader
	history AuditHistory
	audit   domain.AuditStore
	logger  *slog.Logger
}

// NewEventArchiver creates an EventArchiver. With a nil reader every month is
// rewritten on every run.
func NewEventArchiver(
	writer domain.BlobWriter,
	reader domain.BlobReader,
	history AuditHistory,
	audit domain.AuditStore,
	logger *slog.Logger,
) *EventArchiver {
	return &EventArchiver{
		writer:  writer,
		reader:  reader,
		history: history,
		audit:   audit,
		logger:  logger.With(slog.String("component", "archiver")),
	}
}

// ArchiveEvents uploads every audit entry older than before and returns how
// many entries were written. A month whose object was last written after the
// month ended is skipped: its contents cannot have changed.
func (a *EventArchiver) ArchiveEvents(ctx context.Context, before time.Time) (int64, error) {
	entries, err := a.history.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive events query: %w", err)
	}
	if len(entries) == 0 {
		return 0, nil
	}

	months, order := groupByMonth(entries)

	sealed := make(map[string]time.Time)
	if a.reader != nil {
		infos, err := a.reader.List(ctx, EventsPrefix)
		if err != nil {
			return 0, fmt.Errorf("s3blob: archive events list: %w", err)
		}
		for _, info := range infos {
			sealed[info.Path] = info.LastModified
		}
	}

	var (
		count   int64
		written []string
		skipped []string
	)
	for _, month := range order {
		path := archivePath(month)

		if modified, ok := sealed[path]; ok && !modified.Before(monthEnd(month)) {
			skipped = append(skipped, path)
			continue
		}

		buf, err := marshalJSONL(months[month])
		if err != nil {
			return count, fmt.Errorf("s3blob: archive events marshal %s: %w", month, err)
		}
		if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
			return count, fmt.Errorf("s3blob: archive events upload: %w", err)
		}
		count += int64(len(months[month]))
		written = append(written, path)
	}

	a.logger.InfoContext(ctx, "events archived",
		slog.Int64("count", count),
		slog.Int("objects", len(written)),
		slog.Int("skipped", len(skipped)),
		slog.Time("before", before),
	)

	if err := a.audit.Log(ctx, "archive.events", map[string]any{
		"paths":  written,
		"count":  count,
		"before": before.UTC().Format(time.RFC3339),
	}); err != nil {
		return count, fmt.Errorf("s3blob: archive events audit log: %w", err)
	}
	return count, nil
}

// groupByMonth buckets entries by the first instant of their UTC month,
// keeping the months in first-seen order.
func groupByMonth(entries []domain.AuditEntry) (map[time.Time][]archivedEvent, []time.Time) {
	months := make(map[time.Time][]archivedEvent)
	var order []time.Time
	for _, e := range entries {
		t := e.CreatedAt.UTC()
		m := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
		if _, ok := months[m]; !ok {
			order = append(order, m)
		}
		months[m] = append(months[m], archivedEvent{
			ID:        e.ID,
			Event:     e.Event,
			Detail:    e.Detail,
			CreatedAt: e.CreatedAt.UTC(),
		})
	}
	return months, order
}

func monthEnd(month time.Time) time.Time {
	return month.AddDate(0, 1, 0)
}

// archivePath builds the object key for a month, e.g.
//
//	archive/events/2025-01.jsonl
func archivePath(month time.Time) string {
	return EventsPrefix + month.Format("2006-01") + ".jsonl"
}

// marshalJSONL writes one compact JSON document per line.
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

var _ domain.Archiver = (*EventArchiver)(nil)
