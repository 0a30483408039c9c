package normalizer

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"
)

func TestNormalizeTextLineEndings(t *testing.T) {
	n := NewNormalizer(2048)
	variants := [][]byte{
		[]byte("Hello World"),
		[]byte("Hello World\r\n"),
		[]byte("Hello World   \n"),
		[]byte("\nHello World\r"),
	}
	first := n.Normalize(variants[0], "text/plain", "hello.txt")
	if len(first.Warnings) != 0 {
		t.Fatalf("unexpected warnings %v", first.Warnings)
	}
	for _, variant := range variants[1:] {
		asset := n.Normalize(variant, "text/plain", "hello.txt")
		if asset.Hash != first.Hash {
			t.Fatalf("variant %q normalized to %s, want %s", variant, asset.Hash, first.Hash)
		}
	}
}

func TestNormalizeTextInvalidUtf8(t *testing.T) {
	n := NewNormalizer(2048)
	data := []byte{0xff, 0xfe, 0x01}
	asset := n.Normalize(data, "text/plain", "bin.txt")
	if len(asset.Warnings) != 1 || asset.Warnings[0] != WarnTextDecodeFailed {
		t.Fatalf("expected %s warning, got %v", WarnTextDecodeFailed, asset.Warnings)
	}
	if !bytes.Equal(asset.Bytes, data) {
		t.Fatalf("invalid utf8 should pass through unchanged")
	}
}

func TestNormalizeUnhandledMime(t *testing.T) {
	n := NewNormalizer(2048)
	data := []byte{0x00, 0x01, 0x02}
	asset := n.Normalize(data, "application/pdf", "doc.pdf")
	if len(asset.Warnings) != 1 || asset.Warnings[0] != WarnUnhandledMime {
		t.Fatalf("expected %s warning, got %v", WarnUnhandledMime, asset.Warnings)
	}
	if asset.Extension != "pdf" {
		t.Fatalf("extension should come from the filename, got %s", asset.Extension)
	}
}

func testPNG(t *testing.T, width, height int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.NRGBA{R: uint8(x % 256), G: uint8(y % 256), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode test image, err=%v", err)
	}
	return buf.Bytes()
}

func TestNormalizeImageDeterministic(t *testing.T) {
	n := NewNormalizer(2048)
	data := testPNG(t, 64, 32)
	first := n.Normalize(data, "image/png", "a.png")
	second := n.Normalize(data, "image/png", "a.png")
	if first.Hash != second.Hash {
		t.Fatalf("image normalization is not deterministic")
	}
	if len(first.Warnings) != 0 {
		t.Fatalf("unexpected warnings %v", first.Warnings)
	}
}

func TestNormalizeImageBoundsSize(t *testing.T) {
	n := NewNormalizer(16)
	asset := n.Normalize(testPNG(t, 64, 32), "image/png", "a.png")
	img, _, err := image.Decode(bytes.NewReader(asset.Bytes))
	if err != nil {
		t.Fatalf("normalized image does not decode, err=%v", err)
	}
	bounds := img.Bounds()
	if bounds.Dx() > 16 || bounds.Dy() > 16 {
		t.Fatalf("image not bounded, got %dx%d", bounds.Dx(), bounds.Dy())
	}
	if bounds.Dx() != 16 || bounds.Dy() != 8 {
		t.Fatalf("aspect ratio not preserved, got %dx%d", bounds.Dx(), bounds.Dy())
	}
}

func TestNormalizeImageGarbage(t *testing.T) {
	n := NewNormalizer(2048)
	asset := n.Normalize([]byte("not an image"), "image/png", "a.png")
	if len(asset.Warnings) == 0 {
		t.Fatalf("expected a warning for undecodable image input")
	}
}
