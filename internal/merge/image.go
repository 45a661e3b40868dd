package merge

import (
	"net/url"
	"path"
	"regexp"
	"strconv"
	"strings"
)

const minImageWidth = 200

var (
	lowQualityWords = []string{"icon", "favicon", "sprite", "logo", "avatar", "placeholder", "blank", "spacer", "1x1", "pixel", "default-image", "headshot-small"}
	lowQualityExts  = []string{".ico", ".svg", ".gif"}
	dimsExpr        = regexp.MustCompile(`(\d{1,4})x(\d{1,4})`)
)

// IsLowQualityImage reports whether an image URL looks like an icon, sprite,
// tracking pixel or thumbnail rather than a representative picture.
func IsLowQualityImage(raw string) bool {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return true
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return true
	}

	p := strings.ToLower(u.Path)
	base := path.Base(p)
	for _, ext := range lowQualityExts {
		if strings.HasSuffix(base, ext) {
			return true
		}
	}
	for _, w := range lowQualityWords {
		if strings.Contains(base, w) || strings.Contains(p, "/"+w+"/") || strings.Contains(p, "/"+w+"s/") {
			return true
		}
	}
	for _, m := range dimsExpr.FindAllStringSubmatch(base, -1) {
		w, _ := strconv.Atoi(m[1])
		h, _ := strconv.Atoi(m[2])
		if w < minImageWidth && h < minImageWidth {
			return true
		}
	}
	q := u.Query()
	for _, key := range []string{"w", "width", "resize_w"} {
		if v := q.Get(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n < minImageWidth {
				return true
			}
		}
	}
	return false
}
