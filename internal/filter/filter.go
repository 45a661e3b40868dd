package filter

import (
	"net/url"
	"path"
	"regexp"
	"strings"

	"NewsIngest/internal/canonical"
	"NewsIngest/internal/domain"
)

// Rejection reasons reported in Decision.Reason.
const (
	ReasonInvalidURL    = "invalid_url"
	ReasonDeniedDomain  = "denied_domain"
	ReasonDeniedKeyword = "denied_keyword"
	ReasonHomepage      = "homepage"
	ReasonIndexPage     = "index_page"
	ReasonPagination    = "pagination"
	ReasonFile          = "non_article_file"
	ReasonNotArticle    = "not_article_url"
	ReasonContent       = "content_filtered"
)

// DefaultDenyDomains are hosts that never carry articles worth ingesting.
var DefaultDenyDomains = []string{
	"youtube.com", "youtu.be", "facebook.com", "twitter.com", "x.com",
	"instagram.com", "tiktok.com", "reddit.com", "pinterest.com", "linkedin.com",
}

// DefaultDenyKeywords screen out other sports that share feeds with football.
var DefaultDenyKeywords = []string{
	"nba", "wnba", "mlb", "nhl", "mls", "premier league", "ncaa basketball",
	"march madness", "stanley cup", "world series", "fantasy baseball",
	"fantasy basketball", "fantasy hockey",
}

// DefaultContentPhrases is the editorial content filter.
var DefaultContentPhrases = []string{
	"sponsored content", "promo code", "sportsbook promo", "bonus bets",
	"casino bonus", "podcast episode", "live stream", "watch live",
}

// Config holds deny lists; empty slices select the defaults.
type Config struct {
	DenyDomains    []string
	DenyKeywords   []string
	ContentPhrases []string
}

// Decision is the outcome for one candidate.
type Decision struct {
	Keep   bool
	Reason string
}

// Filter decides whether a candidate is worth pursuing. It is pure.
type Filter struct {
	denyDomains []string
	denyWords   *regexp.Regexp
	content     *regexp.Regexp
}

var (
	datedPathExpr  = regexp.MustCompile(`/(?:19|20)\d{2}/(?:0?[1-9]|1[0-2])(?:/|$)|(?:^|[/_-])(?:19|20)\d{2}-[01]\d-[0-3]\d(?:[/_.-]|$)`)
	longNumberExpr = regexp.MustCompile(`\d{5,}`)
	slugWordExpr   = regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+){2,}$`)
	pageSegExpr    = regexp.MustCompile(`^(?:page|p)$`)
	digitsExpr     = regexp.MustCompile(`^\d{1,4}$`)
)

var indexSegments = map[string]struct{}{
	"tag": {}, "tags": {}, "category": {}, "categories": {}, "author": {}, "authors": {},
	"video": {}, "videos": {}, "topic": {}, "topics": {}, "search": {}, "feed": {},
	"rss": {}, "archive": {}, "archives": {}, "section": {}, "podcast": {}, "podcasts": {},
	"login": {}, "subscribe": {}, "about": {}, "contact": {}, "privacy": {}, "terms": {},
}

var fileExtensions = map[string]struct{}{
	".jpg": {}, ".jpeg": {}, ".png": {}, ".gif": {}, ".webp": {}, ".svg": {}, ".ico": {},
	".pdf": {}, ".xml": {}, ".json": {}, ".css": {}, ".js": {}, ".zip": {}, ".mp3": {},
	".mp4": {}, ".mov": {}, ".txt": {}, ".csv": {},
}

var contentIDParams = []string{"id", "p", "story", "storyid", "article", "articleid", "aid", "post", "postid", "news_id", "contentid"}

// New compiles the deny lists.
func New(cfg Config) *Filter {
	domains := cfg.DenyDomains
	if len(domains) == 0 {
		domains = DefaultDenyDomains
	}
	words := cfg.DenyKeywords
	if len(words) == 0 {
		words = DefaultDenyKeywords
	}
	phrases := cfg.ContentPhrases
	if len(phrases) == 0 {
		phrases = DefaultContentPhrases
	}

	f := &Filter{}
	for _, d := range domains {
		if d = canonical.Domain(d); d != "" {
			f.denyDomains = append(f.denyDomains, d)
		}
	}
	f.denyWords = wordsExpr(words)
	f.content = wordsExpr(phrases)
	return f
}

// Decide runs every check in order; the first rejection wins.
func (f *Filter) Decide(c domain.Candidate) Decision {
	u, err := url.Parse(strings.TrimSpace(c.Link))
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return reject(ReasonInvalidURL)
	}

	host := canonical.Domain(u.Hostname())
	if f.deniedDomain(host) {
		return reject(ReasonDeniedDomain)
	}

	pathText := strings.NewReplacer("-", " ", "_", " ", "/", " ").Replace(strings.ToLower(u.Path))
	if f.denyWords != nil && (f.denyWords.MatchString(strings.ToLower(c.Title)) || f.denyWords.MatchString(pathText)) {
		return reject(ReasonDeniedKeyword)
	}

	if reason, ok := LooksLikeArticle(u); !ok {
		return reject(reason)
	}

	if f.content != nil && f.content.MatchString(strings.ToLower(c.Title+" "+c.Description)) {
		return reject(ReasonContent)
	}

	return Decision{Keep: true}
}

func (f *Filter) deniedDomain(host string) bool {
	for _, d := range f.denyDomains {
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}

// LooksLikeArticle applies the structural URL heuristics. The reason is empty
// when the URL is accepted.
func LooksLikeArticle(u *url.URL) (string, bool) {
	trimmed := strings.Trim(u.Path, "/")
	if trimmed == "" {
		if hasContentID(u.Query()) {
			return "", true
		}
		return ReasonHomepage, false
	}

	segments := strings.Split(strings.ToLower(trimmed), "/")
	for i, seg := range segments {
		if _, ok := indexSegments[seg]; ok {
			return ReasonIndexPage, false
		}
		if pageSegExpr.MatchString(seg) && i+1 < len(segments) && digitsExpr.MatchString(segments[i+1]) {
			return ReasonPagination, false
		}
	}
	q := u.Query()
	if q.Get("page") != "" || q.Get("paged") != "" {
		if !hasContentID(q) {
			return ReasonPagination, false
		}
	}

	last := segments[len(segments)-1]
	if ext := path.Ext(last); ext != "" {
		if _, ok := fileExtensions[ext]; ok {
			return ReasonFile, false
		}
	}

	lowerPath := "/" + strings.ToLower(trimmed)
	switch {
	case datedPathExpr.MatchString(lowerPath):
		return "", true
	case longNumberExpr.MatchString(lowerPath):
		return "", true
	case len(segments) >= 3:
		return "", true
	case hasContentID(q):
		return "", true
	}
	for _, seg := range segments {
		slug := strings.TrimSuffix(strings.TrimSuffix(seg, ".html"), ".htm")
		if len(slug) >= 16 && slugWordExpr.MatchString(slug) {
			return "", true
		}
	}
	return ReasonNotArticle, false
}

func hasContentID(q url.Values) bool {
	for _, key := range contentIDParams {
		v := q.Get(key)
		if v == "" {
			continue
		}
		if longNumberExpr.MatchString(v) || len(v) >= 6 {
			return true
		}
		if key != "p" && digitsExpr.MatchString(v) {
			return true
		}
	}
	return false
}

func wordsExpr(words []string) *regexp.Regexp {
	parts := make([]string, 0, len(words))
	for _, w := range words {
		w = strings.ToLower(strings.TrimSpace(w))
		if w == "" {
			continue
		}
		parts = append(parts, regexp.QuoteMeta(w))
	}
	if len(parts) == 0 {
		return nil
	}
	return regexp.MustCompile(`\b(?:` + strings.Join(parts, "|") + `)\b`)
}

func reject(reason string) Decision {
	return Decision{Keep: false, Reason: reason}
}
