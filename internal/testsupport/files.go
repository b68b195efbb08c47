package testsupport

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

// mp4Header is the leading ftyp box of an ISO base media file.
var mp4Header = []byte{0, 0, 0, 0x18, 'f', 't', 'y', 'p', 'i', 's', 'o', 'm', 0, 0, 2, 0, 'i', 's', 'o', 'm', 'm', 'p', '4', '1'}

// WriteVideoFile writes a file of size bytes that starts with an MP4 ftyp
// box, enough for content sniffing and upload tests. It returns the path.
func WriteVideoFile(t testing.TB, dir, name string, size int) string {
	t.Helper()

	if size < len(mp4Header) {
		size = len(mp4Header)
	}
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	payload := append(append([]byte(nil), mp4Header...), bytes.Repeat([]byte{0x42}, size-len(mp4Header))...)
	if err := os.WriteFile(path, payload, 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}
