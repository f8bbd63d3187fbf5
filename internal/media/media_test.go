package media

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/gif"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestSniffMIME(t *testing.T) {
	cases := []struct {
		name string
		data []byte
		want string
	}{
		{name: "png", data: []byte("\x89PNG\r\n\x1a\nrest"), want: "image/png"},
		{name: "jpeg", data: []byte{0xFF, 0xD8, 0xFF, 0xE0}, want: "image/jpeg"},
		{name: "gif", data: []byte("GIF89a...."), want: "image/gif"},
		{name: "webp", data: []byte("RIFF\x00\x00\x00\x00WEBPVP8 "), want: "image/webp"},
		{name: "unknown", data: []byte("plain text"), want: "image/jpeg"},
	}
	for _, tc := range cases {
		if got := SniffMIME(tc.data); got != tc.want {
			t.Fatalf("%s: expected %s, got %s", tc.name, tc.want, got)
		}
	}
}

func TestNormalizeGIFProducesPNG(t *testing.T) {
	palette := color.Palette{color.Black, color.White}
	frame := image.NewPaletted(image.Rect(0, 0, 2, 2), palette)
	var buf bytes.Buffer
	if err := gif.Encode(&buf, frame, nil); err != nil {
		t.Fatalf("encode gif: %v", err)
	}

	out := NormalizeGIF(buf.Bytes())
	if SniffMIME(out) != "image/png" {
		t.Fatalf("expected png output, got %s", SniffMIME(out))
	}

	jpeg := []byte{0xFF, 0xD8, 0xFF}
	if got := NormalizeGIF(jpeg); !bytes.Equal(got, jpeg) {
		t.Fatalf("expected non-gif input unchanged")
	}
}

func TestDecodeBase64(t *testing.T) {
	got, err := DecodeBase64("data:image/png;base64,Zm9v")
	if err != nil {
		t.Fatalf("decode data url: %v", err)
	}
	if string(got) != "foo" {
		t.Fatalf("expected foo, got %q", got)
	}
	got, err = DecodeBase64("Zm9vYg")
	if err != nil {
		t.Fatalf("decode unpadded: %v", err)
	}
	if string(got) != "foob" {
		t.Fatalf("expected foob, got %q", got)
	}
}

func TestDecodeDownloadsURL(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte("image-bytes"))
	}))
	defer server.Close()

	got, err := Decode(context.Background(), Media{Data: server.URL + "/a.png", IsURL: true}, "")
	if err != nil {
		t.Fatalf("decode url: %v", err)
	}
	if string(got) != "image-bytes" {
		t.Fatalf("unexpected body %q", got)
	}
	if _, errMissing := Decode(context.Background(), Media{Data: server.URL + "/missing", IsURL: true}, ""); errMissing == nil {
		t.Fatalf("expected error for 404 download")
	}
}

func TestMaskAndTruncate(t *testing.T) {
	if got := Mask("AIzaSyA-1234567890abcd"); got != "AIzaSyA-········abcd" {
		t.Fatalf("unexpected mask %q", got)
	}
	if got := Mask("short"); got != "········" {
		t.Fatalf("expected short secrets fully masked, got %q", got)
	}
	if got := TruncateForLog("你好世界", 2); got != "你好..." {
		t.Fatalf("unexpected truncate %q", got)
	}
}
