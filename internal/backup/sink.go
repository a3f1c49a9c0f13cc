package backup

import (
	"context"
	"log/slog"
)

// Sink receives every snapshot a cycle produces. Writing is kept out of the
// serializers so they stay pure.
type Sink interface {
	Write(ctx context.Context, s Snapshot) error
}

// LogSink emits both encodings as structured log entries, which is what the
// log pipeline archives for audit.
type LogSink struct {
	Logger *slog.Logger
}

func (l LogSink) Write(ctx context.Context, s Snapshot) error {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}

	structured, err := ToStructured(s)
	if err != nil {
		return err
	}
	tabular, err := ToTabular(s)
	if err != nil {
		return err
	}

	logger.InfoContext(ctx, "DNS records backup (JSON format)", "dns_backup_json", structured, "total_records", s.TotalRecords())
	logger.InfoContext(ctx, "DNS records backup (CSV format)", "dns_backup_csv", tabular, "total_records", s.TotalRecords())
	return nil
}
