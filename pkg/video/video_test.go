package video

import (
	"bytes"
	"image"
	"image/jpeg"
	"os"
	"path/filepath"
	"testing"
)

func TestBuilder(t *testing.T) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 16, 8)), nil); err != nil {
		t.Fatal(err)
	}

	p := filepath.Join(t.TempDir(), "out.avi")
	b, err := NewBuilder(p, 16, 8, 10)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		if err = b.Add(buf.Bytes()); err != nil {
			t.Fatal(err)
		}
	}
	if b.GetCnt() != 3 {
		t.Errorf("GetCnt() = %d, want 3", b.GetCnt())
	}
	if err = b.Close(); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(p)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.HasPrefix(data, []byte("RIFF")) || !bytes.Contains(data[:16], []byte("AVI ")) {
		t.Errorf("output is not an AVI file: % x", data[:16])
	}
}

func TestBuilderInvalidFPS(t *testing.T) {
	if _, err := NewBuilder(filepath.Join(t.TempDir(), "x.avi"), 16, 8, 0); err == nil {
		t.Error("expected an error for fps 0")
	}
}
