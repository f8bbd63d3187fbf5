package extractor

import (
	"bufio"
	"bytes"
	"fmt"
	"io"

	"github.com/router-for-me/GeminiDrawer/internal/media"
	"github.com/tidwall/gjson"
)

// Kind selects what Stream looks for.
type Kind int

const (
	KindImage Kind = iota
	KindVideo
)

const maxSSELineBytes = 64 << 20

// Stream scans an SSE body and returns the first media payload found.
// Comment lines and unparsable events are skipped; a DONE event ends the scan.
func Stream(r io.Reader, kind Kind) (media.Media, bool, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxSSELineBytes)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 || line[0] == ':' {
			continue
		}
		if !bytes.HasPrefix(line, []byte("data:")) {
			continue
		}
		payload := bytes.TrimSpace(line[len("data:"):])
		if string(payload) == "DONE" || string(payload) == "[DONE]" {
			break
		}
		if !gjson.ValidBytes(payload) {
			continue
		}
		root := gjson.ParseBytes(payload)
		var (
			m  media.Media
			ok bool
		)
		if kind == KindVideo {
			m, ok = videoFromResult(root)
		} else {
			m, ok = imageFromResult(root)
		}
		if ok {
			return m, true, nil
		}
	}
	if errScan := scanner.Err(); errScan != nil {
		return media.Media{}, false, fmt.Errorf("extractor: read stream: %w", errScan)
	}
	return media.Media{}, false, nil
}
