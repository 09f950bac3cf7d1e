package ingest

import (
	"fmt"
	"mime"
	"regexp"
	"time"

	"github.com/gabriel-vasile/mimetype"

	"github.com/JakeFAU/post-archiver/internal/archive"
)

const filenameLayout = "2006-01-02T15-04-05"

var (
	hashtagPattern = regexp.MustCompile(`#([\p{L}\p{N}_]+)`)
	mentionPattern = regexp.MustCompile(`@([\p{L}\p{N}_](?:[\p{L}\p{N}_.]*[\p{L}\p{N}_])?)`)
)

// BaseName returns the extension-less file name for item index of a post with
// itemCount items, for example 2024-03-01T12-00-00_[abc]_1.
func BaseName(createdAt time.Time, shortcode string, index, itemCount int) string {
	name := fmt.Sprintf("%s_[%s]", createdAt.UTC().Format(filenameLayout), shortcode)
	if itemCount > 1 {
		name = fmt.Sprintf("%s_%d", name, index)
	}
	return name
}

// Extension picks a file extension from the declared content type, falling back
// to sniffing the payload. It returns "" when neither is recognized.
func Extension(m archive.Media) string {
	if mediaType, _, err := mime.ParseMediaType(m.ContentType); err == nil {
		if t := mimetype.Lookup(mediaType); t != nil && t.Extension() != "" {
			return t.Extension()
		}
	}
	if len(m.Data) == 0 {
		return ""
	}
	return mimetype.Detect(m.Data).Extension()
}

// Hashtags returns the record's hashtags, or those found in caption.
func Hashtags(listed []string, caption string) []string {
	if len(listed) > 0 {
		return dedupe(listed)
	}
	return matches(hashtagPattern, caption)
}

// Mentions returns the record's mentions, or those found in caption.
func Mentions(listed []string, caption string) []string {
	if len(listed) > 0 {
		return dedupe(listed)
	}
	return matches(mentionPattern, caption)
}

func matches(re *regexp.Regexp, text string) []string {
	found := re.FindAllStringSubmatch(text, -1)
	out := make([]string, 0, len(found))
	for _, m := range found {
		out = append(out, m[1])
	}
	return dedupe(out)
}

func dedupe(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if _, ok := seen[v]; ok || v == "" {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
