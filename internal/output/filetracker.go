package output

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"ddsrecorder/internal/constants"
	"ddsrecorder/internal/logger"
	"ddsrecorder/pkg/errors"
	"ddsrecorder/pkg/metrics"
)

// Settings configures the on-disk output of the recorder.
type Settings struct {
	Path            string
	Prefix          string
	MaxFileSize     uint64
	MaxSize         uint64
	SafetyMargin    uint64
	TimestampFormat string
	Compression     string
	RecordTypes     bool
}

type trackedFile struct {
	name   string
	size   uint64
	closed bool
}

// FileTracker owns the output file sequence: naming, rotation counters,
// aggregate size, and free-space checks. Files carry an in-progress suffix
// until CloseFile renames them to their final name.
//
// FileTracker is not safe for concurrent use; the writer serializes access.
type FileTracker struct {
	cfg   Settings
	log   logger.Logger
	files []trackedFile
	next  uint32

	// freeSpace probes the filesystem; replaced in tests.
	freeSpace func(path string) (uint64, error)
}

func NewFileTracker(cfg Settings, log logger.Logger) *FileTracker {
	if cfg.TimestampFormat == "" {
		cfg.TimestampFormat = constants.DefaultTimestampFormat
	}
	return &FileTracker{
		cfg:       cfg,
		log:       log,
		freeSpace: statfsFree,
	}
}

// SetFreeSpaceProbe replaces the filesystem free-space probe. Tests use it to
// fake the device state.
func (t *FileTracker) SetFreeSpaceProbe(probe func(path string) (uint64, error)) {
	t.freeSpace = probe
}

// NewFile registers the next file in the sequence after verifying that it can
// grow to at least minSize bytes without breaking the per-file limit, the
// aggregate limit, or the free space left on the device.
func (t *FileTracker) NewFile(minSize uint64) error {
	if minSize > t.cfg.MaxFileSize {
		return errors.ErrFullDisk.WithDetail("message",
			fmt.Sprintf("minimum file size %d exceeds max_file_size %d", minSize, t.cfg.MaxFileSize))
	}

	if t.TotalSize()+minSize > t.cfg.MaxSize {
		return errors.ErrFullDisk.WithDetail("message",
			fmt.Sprintf("aggregate size %d plus %d exceeds max_size %d", t.TotalSize(), minSize, t.cfg.MaxSize))
	}

	free, err := t.freeSpace(t.cfg.Path)
	if err != nil {
		return errors.ErrInitialization.WithCause(err)
	}
	if free < minSize+t.cfg.SafetyMargin {
		return errors.ErrFullDisk.WithDetail("message",
			fmt.Sprintf("%d bytes free on %s, need %d", free, t.cfg.Path, minSize+t.cfg.SafetyMargin))
	}

	name := t.makeFilename(time.Now().UTC())
	t.files = append(t.files, trackedFile{name: name})
	t.next++

	t.log.Infow("Opening new output file", "file", name, "min_size", minSize)
	return nil
}

func (t *FileTracker) makeFilename(now time.Time) string {
	base := fmt.Sprintf("%s_%s_%04d%s",
		t.cfg.Prefix,
		now.Format(t.cfg.TimestampFormat),
		t.next,
		constants.McapFileExtension,
	)
	return filepath.Join(t.cfg.Path, base+constants.TmpFileSuffix)
}

// CurrentFilename is the in-progress name of the open file.
func (t *FileTracker) CurrentFilename() string {
	if len(t.files) == 0 {
		return ""
	}
	return t.files[len(t.files)-1].name
}

// SetCurrentFileSize updates the in-memory size estimate used for aggregate
// accounting.
func (t *FileTracker) SetCurrentFileSize(size uint64) {
	if len(t.files) == 0 {
		return
	}
	t.files[len(t.files)-1].size = size

	metrics.CurrentFileBytes.Set(float64(size))
	metrics.TotalOutputBytes.Set(float64(t.TotalSize()))
}

// CloseFile renames the in-progress file to its final name.
func (t *FileTracker) CloseFile() error {
	if len(t.files) == 0 {
		return nil
	}

	current := &t.files[len(t.files)-1]
	if current.closed {
		return nil
	}

	final := strings.TrimSuffix(current.name, constants.TmpFileSuffix)
	if err := os.Rename(current.name, final); err != nil {
		return errors.ErrWriter.WithCause(err)
	}

	t.log.Infow("Output file closed", "file", final, "size", current.size)
	current.name = final
	current.closed = true
	return nil
}

// TotalSize is the sum of the sizes of all files, closed and open.
func (t *FileTracker) TotalSize() uint64 {
	var total uint64
	for _, f := range t.files {
		total += f.size
	}
	return total
}

// ClosedFiles lists the final names of cleanly closed files.
func (t *FileTracker) ClosedFiles() []string {
	var names []string
	for _, f := range t.files {
		if f.closed {
			names = append(names, f.name)
		}
	}
	return names
}

func statfsFree(path string) (uint64, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return 0, fmt.Errorf("statfs %s: %w", path, err)
	}
	return st.Bavail * uint64(st.Bsize), nil
}
