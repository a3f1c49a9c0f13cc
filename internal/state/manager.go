// Package state keeps a local archive of recent DNS record snapshots in badger
// so a restore can run without access to the log pipeline.
package state

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v3"

	"github.com/evanofslack/instance-dns-sync/internal/backup"
	"github.com/evanofslack/instance-dns-sync/internal/metrics"
)

const (
	snapshotPrefix = "snapshot:"
	keyLayout      = "20060102T150405.000000000Z"
)

var ErrNoSnapshot = errors.New("no archived snapshot")

type Archive interface {
	backup.Sink
	Latest(ctx context.Context) (backup.Snapshot, error)
	List(ctx context.Context) ([]time.Time, error)
	Close() error
}

type badgerArchive struct {
	db      *badger.DB
	metrics *metrics.Metrics
	retain  int
}

// New opens the archive at path. Only the newest retain snapshots are kept;
// zero or less keeps everything.
func New(path string, retain int, metrics *metrics.Metrics) (Archive, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger db: %w", err)
	}
	return &badgerArchive{db: db, metrics: metrics, retain: retain}, nil
}

func snapshotKey(ts time.Time) []byte {
	return []byte(snapshotPrefix + ts.UTC().Format(keyLayout))
}

// Write stores the snapshot under its timestamp and prunes older entries in
// the same transaction.
func (a *badgerArchive) Write(ctx context.Context, s backup.Snapshot) error {
	data, err := backup.ToStructured(s)
	if err != nil {
		a.metrics.IncArchiveRequest("update", false)
		return err
	}

	err = a.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(snapshotKey(s.Timestamp), []byte(data)); err != nil {
			return err
		}
		if a.retain <= 0 {
			return nil
		}

		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Reverse = true
		it := txn.NewIterator(opts)
		defer it.Close()

		// Reverse iteration needs a seek key past every entry with the prefix.
		seek := append([]byte(snapshotPrefix), 0xFF)
		prefix := []byte(snapshotPrefix)
		var stale [][]byte
		n := 0
		for it.Seek(seek); it.ValidForPrefix(prefix); it.Next() {
			n++
			if n > a.retain {
				stale = append(stale, it.Item().KeyCopy(nil))
			}
		}
		for _, key := range stale {
			if err := txn.Delete(key); err != nil {
				return err
			}
		}
		if len(stale) > 0 {
			a.metrics.IncArchiveRequest("delete", true)
		}
		return nil
	})
	a.metrics.IncArchiveRequest("update", err == nil)
	if err != nil {
		return fmt.Errorf("archive snapshot: %w", err)
	}
	return nil
}

func (a *badgerArchive) Latest(ctx context.Context) (backup.Snapshot, error) {
	var raw []byte
	err := a.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		it := txn.NewIterator(opts)
		defer it.Close()

		it.Seek(append([]byte(snapshotPrefix), 0xFF))
		if !it.ValidForPrefix([]byte(snapshotPrefix)) {
			return ErrNoSnapshot
		}
		var err error
		raw, err = it.Item().ValueCopy(nil)
		return err
	})
	if errors.Is(err, ErrNoSnapshot) {
		a.metrics.IncArchiveRequest("read", true)
		return backup.Snapshot{}, err
	}
	a.metrics.IncArchiveRequest("read", err == nil)
	if err != nil {
		return backup.Snapshot{}, fmt.Errorf("read latest snapshot: %w", err)
	}
	return backup.Parse(raw, backup.FormatJSON)
}

// List returns the archived snapshot timestamps, oldest first.
func (a *badgerArchive) List(ctx context.Context) ([]time.Time, error) {
	var out []time.Time
	err := a.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(snapshotPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			key := string(it.Item().Key())
			ts, err := time.Parse(keyLayout, key[len(snapshotPrefix):])
			if err != nil {
				return fmt.Errorf("bad archive key %q: %w", key, err)
			}
			out = append(out, ts)
		}
		return nil
	})
	a.metrics.IncArchiveRequest("read", err == nil)
	return out, err
}

func (a *badgerArchive) Close() error {
	return a.db.Close()
}
