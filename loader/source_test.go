package loader

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeSource(t *testing.T, content []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "prog.ps")
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return path
}

func TestDetectSource(t *testing.T) {
	long := strings.Repeat("a", sniffLen-1) + "é"

	tests := []struct {
		name    string
		head    []byte
		wantErr bool
	}{
		{"program", []byte(`print "hi"`), false},
		{"empty", nil, false},
		{"utf8 string", []byte(`print "héllo"`), false},
		{"rune cut at boundary", []byte(long)[:sniffLen], false},
		{"nul byte", []byte("print\x00"), true},
		{"invalid utf8", []byte("print \xff\xfe 1"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := DetectSource(tt.head, "prog.ps")
			if tt.wantErr {
				if !errors.Is(err, ErrNotScript) {
					t.Fatalf("DetectSource() error = %v, want ErrNotScript", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("DetectSource() error = %v", err)
			}
		})
	}
}

func TestOpenSource(t *testing.T) {
	src := "{ set x 1\nprint x }\n"
	path := writeSource(t, []byte(src))

	rc, err := OpenSource(path)
	if err != nil {
		t.Fatalf("OpenSource() error = %v", err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("ReadAll() error = %v", err)
	}
	if string(data) != src {
		t.Errorf("content = %q, want %q", data, src)
	}
}

func TestOpenSource_ReadsThroughSniffBuffer(t *testing.T) {
	rc, err := OpenSource(writeSource(t, []byte("print 1")))
	if err != nil {
		t.Fatalf("OpenSource() error = %v", err)
	}
	defer rc.Close()

	var bs io.ByteScanner = rc
	b, err := bs.ReadByte()
	if err != nil || b != 'p' {
		t.Fatalf("ReadByte() = %q, %v", b, err)
	}
	if err := bs.UnreadByte(); err != nil {
		t.Fatalf("UnreadByte() error = %v", err)
	}
	data, err := io.ReadAll(rc)
	if err != nil || string(data) != "print 1" {
		t.Errorf("ReadAll() = %q, %v", data, err)
	}
}

func TestOpenSource_LargeFile(t *testing.T) {
	src := strings.Repeat("print 1\n", 1000)
	rc, err := OpenSource(writeSource(t, []byte(src)))
	if err != nil {
		t.Fatalf("OpenSource() error = %v", err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("ReadAll() error = %v", err)
	}
	if len(data) != len(src) {
		t.Errorf("read %d bytes, want %d", len(data), len(src))
	}
}

func TestOpenSource_NotFound(t *testing.T) {
	_, err := OpenSource(filepath.Join(t.TempDir(), "missing.ps"))
	if !errors.Is(err, ErrSourceNotFound) {
		t.Fatalf("error = %v, want ErrSourceNotFound", err)
	}
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("error = %v, want os.ErrNotExist in chain", err)
	}
}

func TestOpenSource_Binary(t *testing.T) {
	_, err := OpenSource(writeSource(t, []byte{0x7f, 'E', 'L', 'F', 0, 0}))
	if !errors.Is(err, ErrNotScript) {
		t.Fatalf("error = %v, want ErrNotScript", err)
	}
}

func TestOpenSource_Directory(t *testing.T) {
	_, err := OpenSource(t.TempDir())
	if err == nil {
		t.Fatal("expected error for directory")
	}
	if errors.Is(err, ErrSourceNotFound) {
		t.Errorf("directory reported as not found: %v", err)
	}
}
