// Package loader locates and opens petalscript programs and reads the
// optional YAML configuration file.
package loader

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"unicode/utf8"
)

// sniffLen is how much of a source file DetectSource inspects.
const sniffLen = 512

var (
	// ErrSourceNotFound is returned when the program file does not exist.
	ErrSourceNotFound = errors.New("source not found")

	// ErrNotScript is returned for files that are clearly not program text.
	ErrNotScript = errors.New("not a petalscript source")
)

// DetectSource inspects the first bytes of a file and rejects content that
// cannot be program text: NUL bytes or invalid UTF-8. An empty file passes;
// the parser reports it as a missing token.
func DetectSource(head []byte, path string) error {
	if bytes.IndexByte(head, 0) >= 0 {
		return fmt.Errorf("%w: %s contains binary data", ErrNotScript, path)
	}
	// A multi-byte rune may straddle the sniff boundary.
	trimmed := head
	for i := 0; i < utf8.UTFMax-1 && len(trimmed) > 0 && !utf8.Valid(trimmed); i++ {
		trimmed = trimmed[:len(trimmed)-1]
	}
	if !utf8.Valid(trimmed) {
		return fmt.Errorf("%w: %s is not valid UTF-8 text", ErrNotScript, path)
	}
	return nil
}

// Source is an open program file. Reads go through the buffer that was
// used to sniff the file, so it is also an io.ByteScanner.
type Source struct {
	*bufio.Reader
	file *os.File
}

// Close closes the underlying file.
func (s *Source) Close() error {
	return s.file.Close()
}

// OpenSource opens the program at path for streaming. The caller must close
// the returned Source once parsing is done.
func OpenSource(path string) (*Source, error) {
	f, err := os.Open(path) // #nosec G304 -- path from caller
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %w", ErrSourceNotFound, err)
		}
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}

	br := bufio.NewReader(f)
	head, err := br.Peek(sniffLen)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, bufio.ErrBufferFull) {
		_ = f.Close()
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	if err := DetectSource(head, path); err != nil {
		_ = f.Close()
		return nil, err
	}
	return &Source{Reader: br, file: f}, nil
}
