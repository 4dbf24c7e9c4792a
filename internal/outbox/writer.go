// Package outbox hands serialized accounting documents to the exchange
// directories watched by the accounting system.
package outbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"ordersync/entity"
	"ordersync/internal/lib/clock"
	"ordersync/internal/lib/retry"
	"ordersync/internal/lib/sl"
)

// ErrArchiveWrite means the document reached the processing directory but not the archive.
var ErrArchiveWrite = errors.New("archive write failed")

type Writer struct {
	processingDir string
	archiveDir    string
	policy        retry.Policy
	log           *slog.Logger
}

func NewWriter(processingDir, archiveDir string, log *slog.Logger) (*Writer, error) {
	for _, dir := range []string{processingDir, archiveDir} {
		if dir == "" {
			return nil, fmt.Errorf("outbox directory not set")
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return &Writer{
		processingDir: processingDir,
		archiveDir:    archiveDir,
		policy:        filePolicy(retry.Default()),
		log:           log.With(sl.Module("outbox")),
	}, nil
}

func (w *Writer) SetPolicy(policy retry.Policy) {
	w.policy = filePolicy(policy)
}

// filePolicy retries every file system error unless the policy says otherwise.
func filePolicy(policy retry.Policy) retry.Policy {
	if policy.Retriable == nil {
		policy.Retriable = func(error) bool { return true }
	}
	return policy
}

// FileName is stable for an entry, so a redelivery overwrites the same file.
func FileName(entry *entity.OutboxEntry) string {
	name := fmt.Sprintf("%s_%s_%s.json", entry.ExternalId, entry.Action, clock.Stamp(entry.Created))
	return strings.NewReplacer("/", "_", `\`, "_").Replace(name)
}

// Write puts the entry into the processing directory and then into the archive.
func (w *Writer) Write(ctx context.Context, entry *entity.OutboxEntry) error {
	name := FileName(entry)
	log := w.log.With(slog.String("file", name))

	err := w.policy.Do(ctx, func(context.Context) error {
		return writeFile(w.processingDir, name, entry.Payload)
	}, func(err error, next time.Duration) {
		log.With(sl.Err(err), slog.Duration("retry_in", next)).Warn("processing write")
	})
	if err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}

	err = w.policy.Do(ctx, func(context.Context) error {
		return writeFile(w.archiveDir, name, entry.Payload)
	}, func(err error, next time.Duration) {
		log.With(sl.Err(err), slog.Duration("retry_in", next)).Warn("archive write")
	})
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrArchiveWrite, name, err)
	}

	log.Debug("document written")
	return nil
}

// writeFile makes the file appear atomically: readers of dir never see a partial document.
func writeFile(dir, name string, data []byte) error {
	tmp, err := os.CreateTemp(dir, "."+name+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err = tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err = tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err = tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	if err = os.Chmod(tmpName, 0o644); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	if err = os.Rename(tmpName, filepath.Join(dir, name)); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	return nil
}
