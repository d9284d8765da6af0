package hylord

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"
	"sync"

	"github.com/klauspost/pgzip"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

var (
	errAlreadyLoaded    = errors.New("file is already loaded")
	errNotLoaded        = errors.New("no data loaded")
	errAlreadyExtracted = errors.New("records already extracted")
)

// parseFunc converts the (possibly projected) fields of one line into
// a typed record. A returned error marks the line as malformed; the
// line is skipped and the error recorded as a warning.
type parseFunc[T any] func(fields []string) (T, error)

// maxStoredWarnings bounds how many malformed-line messages are kept
// verbatim. Further warnings are only counted.
const maxStoredWarnings = 5

// tsvReader parses a whitespace-delimited file into records of type T.
// The file is memory-mapped and scanned by `threads` goroutines over
// contiguous line-aligned chunks; results are reassembled in original
// file order. A reader loads at most once, and extractRecords moves
// the parsed records out of it.
type tsvReader[T any] struct {
	path    string
	parse   parseFunc[T]
	columns []int
	filter  rowFilter
	threads int

	records   []T
	loaded    bool
	extracted bool

	warnMu    sync.Mutex
	warnings  []string
	warnTotal int
}

// newTSVReader validates that path names a readable, non-empty regular
// file and returns a reader over it. columns selects which fields of
// each line to keep (nil keeps all, order is never changed); filter
// drops rows after projection; threads <= 0 means one chunk per CPU.
func newTSVReader[T any](path string, parse parseFunc[T], columns []int, filter rowFilter, threads int) (*tsvReader[T], error) {
	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to read file %q: file not found", path)
	} else if err != nil {
		return nil, fmt.Errorf("failed to read file %q: %w", path, err)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("failed to read file %q: not a regular file", path)
	}
	if info.Size() == 0 {
		return nil, fmt.Errorf("failed to read file %q: file is empty", path)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file %q: %w", path, err)
	}
	f.Close()
	if threads <= 0 {
		threads = runtime.NumCPU()
	}
	return &tsvReader[T]{
		path:    path,
		parse:   parse,
		columns: columns,
		filter:  filter,
		threads: threads,
	}, nil
}

// load maps the file, parses it, and stores the resulting records.
// Malformed lines are skipped with a warning; only I/O problems fail
// the load. Calling load twice is an error.
func (r *tsvReader[T]) load() error {
	if r.loaded {
		return errAlreadyLoaded
	}

	data, cleanup, err := r.mapFile()
	if err != nil {
		return fmt.Errorf("failed to read file %q: %w", r.path, err)
	}
	defer cleanup()

	chunks := splitChunks(data, r.threads)
	results := make([][]T, len(chunks))
	var wg sync.WaitGroup
	for i, chunk := range chunks {
		i, chunk := i, chunk
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = r.processChunk(chunk)
		}()
	}
	wg.Wait()

	total := 0
	for _, recs := range results {
		total += len(recs)
	}
	r.records = make([]T, 0, total)
	for _, recs := range results {
		r.records = append(r.records, recs...)
	}
	r.loaded = true
	r.reportWarnings()
	return nil
}

// extractRecords transfers ownership of the parsed records to the
// caller. It fails before a successful load and after a previous
// extraction.
func (r *tsvReader[T]) extractRecords() ([]T, error) {
	if !r.loaded {
		return nil, errNotLoaded
	}
	if r.extracted {
		return nil, errAlreadyExtracted
	}
	r.extracted = true
	records := r.records
	r.records = nil
	return records, nil
}

// mapFile returns the raw file contents and a cleanup function. Plain
// files are memory-mapped read-only; .gz files are decompressed into
// memory so the same chunked scan applies.
func (r *tsvReader[T]) mapFile() (data []byte, cleanup func(), err error) {
	f, err := os.Open(r.path)
	if err != nil {
		return nil, nil, err
	}

	if strings.HasSuffix(r.path, ".gz") {
		defer f.Close()
		gz, err := pgzip.NewReader(f)
		if err != nil {
			return nil, nil, err
		}
		defer gz.Close()
		buf, err := io.ReadAll(gz)
		if err != nil {
			return nil, nil, err
		}
		if len(buf) == 0 {
			return nil, nil, errors.New("file is empty")
		}
		return buf, func() {}, nil
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, nil, err
	}
	mapped, err := unix.Mmap(int(f.Fd()), 0, int(info.Size()), unix.PROT_READ, unix.MAP_PRIVATE)
	if err != nil {
		f.Close()
		return nil, nil, fmt.Errorf("memory mapping failed: %w", err)
	}
	unix.Madvise(mapped, unix.MADV_SEQUENTIAL|unix.MADV_WILLNEED)
	return mapped, func() {
		unix.Munmap(mapped)
		f.Close()
	}, nil
}

// splitChunks divides data into at most threads byte ranges, advancing
// every cut to the next newline so no line straddles a chunk. The
// final chunk always ends at end-of-file.
func splitChunks(data []byte, threads int) [][]byte {
	chunkSize := len(data) / threads
	chunks := make([][]byte, 0, threads)
	start := 0
	for i := 0; i < threads && start < len(data); i++ {
		end := len(data)
		if i < threads-1 {
			approx := start + chunkSize
			if approx < len(data) {
				if nl := bytes.IndexByte(data[approx:], '\n'); nl >= 0 {
					end = approx + nl
				}
			}
		}
		chunks = append(chunks, data[start:end])
		start = end + 1
	}
	return chunks
}

func isFieldSeparator(r rune) bool { return r == '\t' || r == ' ' }

// processChunk parses one chunk's lines in file order. Rows rejected
// by the filter are dropped silently; rows the filter or parser cannot
// handle are dropped with a warning.
func (r *tsvReader[T]) processChunk(chunk []byte) []T {
	var records []T
	for len(chunk) > 0 {
		line := chunk
		if nl := bytes.IndexByte(chunk, '\n'); nl >= 0 {
			line = chunk[:nl]
			chunk = chunk[nl+1:]
		} else {
			chunk = nil
		}

		fields := strings.FieldsFunc(string(line), isFieldSeparator)
		if len(r.columns) > 0 {
			projected := make([]string, 0, len(r.columns))
			for _, col := range r.columns {
				if col < len(fields) {
					projected = append(projected, fields[col])
				}
			}
			fields = projected
		}

		if r.filter != nil {
			keep, err := r.filter(fields)
			if err != nil {
				r.addWarning(line, err)
				continue
			}
			if !keep {
				continue
			}
		}
		record, err := r.parse(fields)
		if err != nil {
			r.addWarning(line, err)
			continue
		}
		records = append(records, record)
	}
	return records
}

func (r *tsvReader[T]) addWarning(line []byte, err error) {
	r.warnMu.Lock()
	defer r.warnMu.Unlock()
	r.warnTotal++
	if len(r.warnings) < maxStoredWarnings {
		text := string(line)
		if text == "" {
			text = "(empty line)"
		}
		r.warnings = append(r.warnings, fmt.Sprintf("%s: %q", err, text))
	}
}

func (r *tsvReader[T]) reportWarnings() {
	if r.warnTotal == 0 {
		return
	}
	log.Warnf("%d malformed lines skipped while processing %q", r.warnTotal, r.path)
	for _, warning := range r.warnings {
		log.Warnf("  %s", warning)
	}
	if suppressed := r.warnTotal - len(r.warnings); suppressed > 0 {
		log.Warnf("  ...and %d more", suppressed)
	}
}
