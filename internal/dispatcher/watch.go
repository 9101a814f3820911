package dispatcher

import (
	"context"
	"os"
	"path/filepath"

	"github.com/vinaes/succ-amanstore/internal/embed"
	"github.com/vinaes/succ-amanstore/internal/watcher"
)

// HandleFileEvents applies a batch of watcher.FileEvents against projectID's
// index, reading changed files relative to rootPath. Grounded on the deleted
// internal/index.Coordinator.HandleEvents/handleEvent dispatch: directory
// events are skipped, create/modify re-ingest, delete removes, and rename is
// a no-op because HybridWatcher/PollingWatcher already split a rename into a
// delete of OldPath plus a create of Path.
//
// A single event's failure is logged and does not stop the batch; the caller
// gets back the count of events that were actually applied.
//
// OpGitignoreChange and OpConfigChange triggered a full reconciliation sweep
// in the teacher's coordinator; that sweep lived in internal/index, which is
// out of scope here, so both are currently no-ops besides the log line.
func (d *Dispatcher) HandleFileEvents(ctx context.Context, projectID, rootPath string, events []watcher.FileEvent, embedder embed.Embedder) (int, error) {
	var applied int
	for _, event := range events {
		if event.IsDir {
			continue
		}

		if err := d.handleFileEvent(ctx, projectID, rootPath, event, embedder); err != nil {
			d.log.Warn("handle_file_events: event failed", "path", event.Path, "op", event.Operation.String(), "error", err)
			continue
		}
		applied++
	}
	return applied, nil
}

func (d *Dispatcher) handleFileEvent(ctx context.Context, projectID, rootPath string, event watcher.FileEvent, embedder embed.Embedder) error {
	switch event.Operation {
	case watcher.OpCreate, watcher.OpModify:
		content, err := os.ReadFile(filepath.Join(rootPath, event.Path))
		if err != nil {
			return err
		}
		_, err = d.IngestFile(ctx, projectID, event.Path, content, embedder)
		return err
	case watcher.OpDelete:
		return d.RemoveFile(ctx, projectID, event.Path)
	case watcher.OpRename:
		return nil
	case watcher.OpGitignoreChange, watcher.OpConfigChange:
		d.log.Info("handle_file_events: reconciliation sweep not implemented", "op", event.Operation.String())
		return nil
	default:
		return nil
	}
}
