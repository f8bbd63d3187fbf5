package extractor

import (
	"errors"
	"strings"
	"testing"
	"testing/iotest"
)

func TestImage_Dialects(t *testing.T) {
	cases := []struct {
		name   string
		body   string
		data   string
		isURL  bool
		mime   string
		hasHit bool
	}{
		{name: "doubao url", body: `{"data":[{"url":"https://cdn.example/a.png","size":"2048x2048"}]}`, data: "https://cdn.example/a.png", isURL: true, hasHit: true},
		{name: "doubao b64", body: `{"data":[{"b64_json":"Zm9v"}]}`, data: "Zm9v", hasHit: true},
		{name: "openai markdown", body: `{"choices":[{"message":{"content":"here ![img](https://x.example/o/123)"}}]}`, data: "https://x.example/o/123", isURL: true, hasHit: true},
		{name: "openai markdown data url", body: `{"choices":[{"message":{"content":"![img](data:image/png;base64,Zm9v)"}}]}`, data: "Zm9v", mime: "image/png", hasHit: true},
		{name: "openai bare image url", body: `{"choices":[{"message":{"content":"done: https://x.example/a.webp?sig=1 enjoy"}}]}`, data: "https://x.example/a.webp?sig=1", isURL: true, hasHit: true},
		{name: "openai dashboard skipped", body: `{"choices":[{"message":{"content":"see https://x.example/dashboard and data:image/jpeg;base64,YmFy"}}]}`, data: "YmFy", mime: "image/jpeg", hasHit: true},
		{name: "openai delta", body: `{"choices":[{"delta":{"content":"data:image/png;base64,Zm9v"}}]}`, data: "Zm9v", mime: "image/png", hasHit: true},
		{name: "content array image", body: `{"choices":[{"message":{"content":[{"type":"image","image":{"data":"Zm9v"}}]}}]}`, data: "Zm9v", hasHit: true},
		{name: "content array image_url", body: `{"choices":[{"message":{"content":[{"type":"text","text":"ok"},{"type":"image_url","image_url":{"url":"data:image/webp;base64,Zm9v"}}]}}]}`, data: "Zm9v", mime: "image/webp", hasHit: true},
		{name: "message images", body: `{"choices":[{"message":{"content":"","images":[{"type":"image_url","image_url":{"url":"https://x.example/i"}}]}}]}`, data: "https://x.example/i", isURL: true, hasHit: true},
		{name: "gemini inlineData", body: `{"candidates":[{"content":{"parts":[{"text":"ok"},{"inlineData":{"mimeType":"image/png","data":"Zm9v"}}]}}]}`, data: "Zm9v", mime: "image/png", hasHit: true},
		{name: "gemini inline_data", body: `{"candidates":[{"content":{"parts":[{"inline_data":{"mime_type":"image/jpeg","data":"Zm9v"}}]}}]}`, data: "Zm9v", mime: "image/jpeg", hasHit: true},
		{name: "gemini text data url", body: `{"candidates":[{"content":{"parts":[{"text":"data:image/png;base64,Zm9v"}]}}]}`, data: "Zm9v", mime: "image/png", hasHit: true},
		{name: "refusal", body: `{"choices":[{"message":{"content":"I cannot draw that."}}]}`},
		{name: "gemini blocked", body: `{"candidates":[{"finishReason":"SAFETY"}]}`},
		{name: "garbage", body: `not json`},
	}
	for _, tc := range cases {
		m, ok := Image([]byte(tc.body))
		if ok != tc.hasHit {
			t.Fatalf("%s: expected hit=%v, got %v (%+v)", tc.name, tc.hasHit, ok, m)
		}
		if !ok {
			continue
		}
		if m.Data != tc.data || m.IsURL != tc.isURL || m.MIME != tc.mime {
			t.Fatalf("%s: unexpected media %+v", tc.name, m)
		}
	}
}

func TestVideo_Shapes(t *testing.T) {
	cases := []struct {
		name  string
		body  string
		data  string
		isURL bool
	}{
		{name: "task", body: `{"id":"t1","status":"succeeded","content":{"video_url":"https://v.example/out.mp4"}}`, data: "https://v.example/out.mp4", isURL: true},
		{name: "markdown data url", body: `{"choices":[{"message":{"content":"![video](data:video/mp4;base64,AAAA)"}}]}`, data: "AAAA"},
		{name: "bare video url", body: `{"choices":[{"message":{"content":"here https://v.example/clip.mp4"}}]}`, data: "https://v.example/clip.mp4", isURL: true},
		{name: "gemini video part", body: `{"candidates":[{"content":{"parts":[{"inlineData":{"mimeType":"video/mp4","data":"AAAA"}}]}}]}`, data: "AAAA"},
	}
	for _, tc := range cases {
		m, ok := Video([]byte(tc.body))
		if !ok {
			t.Fatalf("%s: expected video", tc.name)
		}
		if m.Data != tc.data || m.IsURL != tc.isURL {
			t.Fatalf("%s: unexpected media %+v", tc.name, m)
		}
	}
	if _, ok := Video([]byte(`{"candidates":[{"content":{"parts":[{"inlineData":{"mimeType":"image/png","data":"Zm9v"}}]}}]}`)); ok {
		t.Fatalf("image parts must not count as video")
	}
}

func TestStream_FirstMatchAndSkips(t *testing.T) {
	body := strings.Join([]string{
		": keep-alive",
		"",
		"data: {not json",
		`data: {"choices":[{"delta":{"content":"thinking"}}]}`,
		`data: {"choices":[{"delta":{"content":"![a](https://x.example/1.png)"}}]}`,
		`data: {"choices":[{"delta":{"content":"![b](https://x.example/2.png)"}}]}`,
		"data: [DONE]",
	}, "\n")
	m, ok, errStream := Stream(strings.NewReader(body), KindImage)
	if errStream != nil || !ok {
		t.Fatalf("expected match, ok=%v err=%v", ok, errStream)
	}
	if m.Data != "https://x.example/1.png" || !m.IsURL {
		t.Fatalf("expected first match, got %+v", m)
	}
}

func TestStream_StopsAtDone(t *testing.T) {
	body := "data: DONE\n" + `data: {"data":[{"url":"https://x.example/late.png"}]}` + "\n"
	if _, ok, _ := Stream(strings.NewReader(body), KindImage); ok {
		t.Fatalf("events after DONE must be ignored")
	}
}

func TestStream_ReaderError(t *testing.T) {
	_, ok, errStream := Stream(iotest.ErrReader(errors.New("reset")), KindVideo)
	if ok || errStream == nil {
		t.Fatalf("expected read error, ok=%v err=%v", ok, errStream)
	}
}
