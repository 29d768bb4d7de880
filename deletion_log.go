package overlayfs

import (
	"errors"
	"io"
	"io/fs"
	"os"
	"strings"

	"github.com/absfs/absfs"
)

// Deletion log record opcodes. Records are newline-delimited ASCII: the
// leading byte is the opcode, the remainder of the line is the absolute
// path being hidden or unhidden.
const (
	recDelete   byte = 'd'
	recUndelete byte = 'u'
)

// deletionLog is the append-only durable record of hide/unhide events. The
// handle is opened once for the filesystem's lifetime; every append is
// followed by an explicit sync.
type deletionLog struct {
	f absfs.File
}

// append writes one record and flushes it before returning.
func (l *deletionLog) append(op byte, name string) error {
	rec := make([]byte, 0, len(name)+2)
	rec = append(rec, op)
	rec = append(rec, name...)
	rec = append(rec, '\n')
	if _, err := l.f.Write(rec); err != nil {
		return err
	}
	return l.f.Sync()
}

func (l *deletionLog) close() error {
	if err := l.f.Sync(); err != nil {
		l.f.Close()
		return err
	}
	return l.f.Close()
}

// replayDeletionLog applies prior log content to the deletion map in record
// order, so the last record per path wins.
func replayDeletionLog(data []byte, apply func(name string, hidden bool)) int {
	n := 0
	for _, line := range strings.Split(string(data), "\n") {
		if len(line) < 2 {
			continue
		}
		op, name := line[0], line[1:]
		switch op {
		case recDelete:
			apply(name, true)
		case recUndelete:
			apply(name, false)
		default:
			// Unknown opcodes are skipped rather than failing the whole
			// replay; the log may have been written by a newer version.
			continue
		}
		n++
	}
	return n
}

// loadDeletionLog rebuilds the deletion map from the log on the writable
// layer and opens the lifetime append handle. A missing log is an empty
// log, not an error.
func (ofs *FileSystem) loadDeletionLog() error {
	data, err := ofs.writable.ReadFile(ofs.logPath)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return mapProviderError("initialize", ofs.logPath, err)
	}

	n := replayDeletionLog(data, func(name string, hidden bool) {
		ofs.deleted.Store(name, hidden)
	})

	f, err := ofs.writable.OpenFile(ofs.logPath, os.O_WRONLY|os.O_CREATE, 0644)
	if err != nil {
		return mapProviderError("initialize", ofs.logPath, err)
	}
	// Position at the end explicitly instead of relying on O_APPEND, which
	// not every backend honors.
	if _, err := f.Seek(0, io.SeekEnd); err != nil {
		f.Close()
		return mapProviderError("initialize", ofs.logPath, err)
	}
	ofs.dlog = &deletionLog{f: f}

	ofs.logger.Debug().
		Str("path", ofs.logPath).
		Int("records", n).
		Int("entries", ofs.deleted.Size()).
		Msg("deletion log replayed")
	return nil
}
