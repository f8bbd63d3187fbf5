package extractor

import (
	"regexp"
	"strings"

	"github.com/router-for-me/GeminiDrawer/internal/media"
	"github.com/tidwall/gjson"
)

var (
	markdownImage  = regexp.MustCompile(`!\[.*?\]\((.*?)\)`)
	imageFileURL   = regexp.MustCompile(`(?i)https?://[^\s]+\.(?:png|jpg|jpeg|gif|webp|bmp|ico|tiff?)(?:\?[^\s]*)?`)
	anyURL         = regexp.MustCompile(`https?://[^\s]+`)
	imageDataURL   = regexp.MustCompile(`data:(image/\w+);base64,([a-zA-Z0-9+/=\n]+)`)
	markdownVideo  = regexp.MustCompile(`!\[.*?\]\(data:(video/[^;]+);base64,([a-zA-Z0-9+/=\n]+)\)`)
	videoDataURL   = regexp.MustCompile(`data:(video/[^;]+);base64,([a-zA-Z0-9+/=\n]+)`)
	videoFileURL   = regexp.MustCompile(`(?i)https?://[^\s)]+\.(?:mp4|webm|mov|m4v)(?:\?[^\s)]*)?`)
	nonImagePages  = []string{"dashboard", "login", "signin", "register", "admin"}
	dataURLPattern = regexp.MustCompile(`^data:([^;,]+);base64,(.*)$`)
)

// Image returns the first image found in a vendor response body.
func Image(body []byte) (media.Media, bool) {
	if !gjson.ValidBytes(body) {
		return media.Media{}, false
	}
	return imageFromResult(gjson.ParseBytes(body))
}

// Video returns the first video found in a vendor response body.
func Video(body []byte) (media.Media, bool) {
	if !gjson.ValidBytes(body) {
		return media.Media{}, false
	}
	return videoFromResult(gjson.ParseBytes(body))
}

func imageFromResult(root gjson.Result) (media.Media, bool) {
	if m, ok := imageFromDataList(root.Get("data")); ok {
		return m, true
	}
	if choice := root.Get("choices.0"); choice.Exists() {
		if m, ok := imageFromChoice(choice); ok {
			return m, true
		}
	}
	return imageFromCandidates(root.Get("candidates.0.content.parts"))
}

func imageFromDataList(data gjson.Result) (media.Media, bool) {
	if !data.IsArray() {
		return media.Media{}, false
	}
	for _, item := range data.Array() {
		if u := item.Get("url").String(); u != "" {
			return urlOrInline(u), true
		}
		if b64 := item.Get("b64_json").String(); b64 != "" {
			return media.Media{Data: b64}, true
		}
	}
	return media.Media{}, false
}

// choiceContent prefers the streaming delta over the final message.
func choiceContent(choice gjson.Result) gjson.Result {
	if content := choice.Get("delta.content"); content.Exists() && content.Type != gjson.Null {
		return content
	}
	return choice.Get("message.content")
}

func imageFromChoice(choice gjson.Result) (media.Media, bool) {
	if images := choice.Get("message.images"); images.IsArray() {
		for _, item := range images.Array() {
			if item.Get("type").String() == "image_url" {
				if m, ok := imageURLValue(item.Get("image_url.url").String()); ok {
					return m, true
				}
			}
			if u := item.Get("url").String(); u != "" {
				return urlOrInline(u), true
			}
		}
	}

	content := choiceContent(choice)
	switch {
	case content.IsArray():
		for _, item := range content.Array() {
			switch item.Get("type").String() {
			case "image":
				if data := item.Get("image.data").String(); data != "" {
					return media.Media{Data: data}, true
				}
				if u := item.Get("image.url").String(); u != "" {
					return urlOrInline(u), true
				}
			case "image_url":
				if m, ok := imageURLValue(item.Get("image_url.url").String()); ok {
					return m, true
				}
			case "text":
				if match := markdownImage.FindStringSubmatch(item.Get("text").String()); match != nil {
					return urlOrInline(match[1]), true
				}
			}
		}
	case content.Type == gjson.String:
		return imageFromText(content.String())
	}
	return media.Media{}, false
}

func imageURLValue(u string) (media.Media, bool) {
	if u == "" {
		return media.Media{}, false
	}
	if strings.HasPrefix(u, "data:image") {
		if !strings.Contains(u, "base64,") {
			return media.Media{}, false
		}
		return urlOrInline(u), true
	}
	return media.Media{Data: u, IsURL: true}, true
}

func imageFromText(text string) (media.Media, bool) {
	if match := markdownImage.FindStringSubmatch(text); match != nil {
		return urlOrInline(match[1]), true
	}
	if u := imageFileURL.FindString(text); u != "" {
		return media.Media{Data: u, IsURL: true}, true
	}
	if u := anyURL.FindString(text); u != "" && !looksLikePage(u) {
		return media.Media{Data: u, IsURL: true}, true
	}
	if match := imageDataURL.FindStringSubmatch(text); match != nil {
		return media.Media{Data: match[2], MIME: match[1]}, true
	}
	return media.Media{}, false
}

func imageFromCandidates(parts gjson.Result) (media.Media, bool) {
	if !parts.IsArray() {
		return media.Media{}, false
	}
	for _, part := range parts.Array() {
		inline := part.Get("inlineData")
		if !inline.Exists() {
			inline = part.Get("inline_data")
		}
		if data := inline.Get("data"); data.Type == gjson.String {
			mime := inline.Get("mimeType").String()
			if mime == "" {
				mime = inline.Get("mime_type").String()
			}
			return media.Media{Data: data.String(), MIME: mime}, true
		}
		if match := imageDataURL.FindStringSubmatch(part.Get("text").String()); match != nil {
			return media.Media{Data: match[2], MIME: match[1]}, true
		}
	}
	return media.Media{}, false
}

func videoFromResult(root gjson.Result) (media.Media, bool) {
	if m, ok := videoFromTask(root.Get("content")); ok {
		return m, true
	}
	if data := root.Get("data"); data.IsArray() {
		for _, item := range data.Array() {
			if u := item.Get("url").String(); u != "" && videoFileURL.MatchString(u) {
				return media.Media{Data: u, IsURL: true}, true
			}
		}
	}
	if choice := root.Get("choices.0"); choice.Exists() {
		if m, ok := videoFromChoice(choice); ok {
			return m, true
		}
	}
	return videoFromCandidates(root.Get("candidates.0.content.parts"))
}

// videoFromTask reads the content of a finished asynchronous video task.
func videoFromTask(content gjson.Result) (media.Media, bool) {
	if content.IsArray() {
		content = content.Get("0")
	}
	if !content.IsObject() {
		return media.Media{}, false
	}
	for _, path := range []string{"video_url", "url"} {
		if u := content.Get(path).String(); u != "" {
			return media.Media{Data: u, IsURL: true}, true
		}
	}
	return media.Media{}, false
}

func videoFromChoice(choice gjson.Result) (media.Media, bool) {
	content := choiceContent(choice)
	if content.IsArray() {
		for _, item := range content.Array() {
			switch item.Get("type").String() {
			case "video":
				if data := item.Get("video.data").String(); data != "" {
					return media.Media{Data: data, MIME: "video/mp4"}, true
				}
				if u := item.Get("video.url").String(); u != "" {
					return media.Media{Data: u, IsURL: true}, true
				}
			case "video_url":
				if u := item.Get("video_url.url").String(); u != "" {
					return urlOrInline(u), true
				}
			case "text":
				if m, ok := videoFromText(item.Get("text").String()); ok {
					return m, true
				}
			}
		}
		return media.Media{}, false
	}
	if content.Type == gjson.String {
		return videoFromText(content.String())
	}
	return media.Media{}, false
}

func videoFromText(text string) (media.Media, bool) {
	if match := markdownVideo.FindStringSubmatch(text); match != nil {
		return media.Media{Data: match[2], MIME: match[1]}, true
	}
	if match := videoDataURL.FindStringSubmatch(text); match != nil {
		return media.Media{Data: match[2], MIME: match[1]}, true
	}
	if u := videoFileURL.FindString(text); u != "" {
		return media.Media{Data: u, IsURL: true}, true
	}
	return media.Media{}, false
}

func videoFromCandidates(parts gjson.Result) (media.Media, bool) {
	if !parts.IsArray() {
		return media.Media{}, false
	}
	for _, part := range parts.Array() {
		inline := part.Get("inlineData")
		if !inline.Exists() {
			inline = part.Get("inline_data")
		}
		mime := inline.Get("mimeType").String()
		if mime == "" {
			mime = inline.Get("mime_type").String()
		}
		if strings.Contains(mime, "video") {
			if data := inline.Get("data"); data.Type == gjson.String {
				return media.Media{Data: data.String(), MIME: mime}, true
			}
		}
		if match := videoDataURL.FindStringSubmatch(part.Get("text").String()); match != nil {
			return media.Media{Data: match[2], MIME: match[1]}, true
		}
	}
	return media.Media{}, false
}

// urlOrInline turns a data URL into inline base64 and anything else into a URL.
func urlOrInline(u string) media.Media {
	u = strings.TrimSpace(u)
	if match := dataURLPattern.FindStringSubmatch(u); match != nil {
		return media.Media{Data: match[2], MIME: match[1]}
	}
	return media.Media{Data: u, IsURL: true}
}

func looksLikePage(u string) bool {
	lower := strings.ToLower(u)
	for _, keyword := range nonImagePages {
		if strings.Contains(lower, keyword) {
			return true
		}
	}
	return false
}
