// Package classify tags articles with topics, a season week, mentioned
// players and a reference-content flag. Everything here is pure.
package classify

import (
	"html"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Canonical topic tags, in precedence order.
const (
	TopicWaiverWire = "waiver-wire"
	TopicRankings   = "rankings"
	TopicStartSit   = "start-sit"
	TopicTrade      = "trade"
	TopicInjury     = "injury"
	TopicDFS        = "dfs"
	TopicNews       = "news"
)

// Static reference types.
const (
	StaticGuide = "guide"
	StaticTool  = "tool"
)

// MaxWeek is the last regular-season week.
const MaxWeek = 18

type rule struct {
	topic string
	expr  *regexp.Regexp
}

var rules = []rule{
	{TopicWaiverWire, regexp.MustCompile(`\b(?:waivers?(?:[- ]wire)?|pick ?ups?|adds? and drops?|streamers?|streaming|free agents?|faab|deep[- ]league adds?)\b`)},
	{TopicRankings, regexp.MustCompile(`\b(?:rankings?|ranks|tiers?|top \d{1,3}|big board|cheat ?sheets?|power rankings?)\b`)},
	{TopicStartSit, regexp.MustCompile(`\b(?:start(?:\s*'?em)?\s*(?:,|/|or|&|and)?\s*sit|sleepers?|busts?|must[- ]starts?|lineup (?:decisions|advice)|who to start)\b`)},
	{TopicTrade, regexp.MustCompile(`\b(?:trades?|trade (?:value|targets?)|buy[- ]lows?|sell[- ]highs?|rest[- ]of[- ]season|ros)\b`)},
	{TopicInjury, regexp.MustCompile(`\b(?:injur(?:y|ies|ed)|questionable|doubtful|ruled out|out for (?:the )?(?:season|week)|concussion|hamstring|ankle|acl|achilles|injured reserve|inactives?)\b`)},
	{TopicDFS, regexp.MustCompile(`\b(?:dfs|draftkings|fanduel|daily fantasy|cash games?|gpps?|showdown slate|prizepicks|underdog fantasy)\b`)},
}

var (
	weekExpr      = regexp.MustCompile(`(?i)\b(?:week|wk\.?)\s*#?\s*(\d{1,3})\b`)
	weekSlugExpr  = regexp.MustCompile(`(?i)(?:^|[/_-])(?:week|wk)[-_]?(\d{1,3})(?:$|[/_.-])`)
	guideExpr     = regexp.MustCompile(`\b(?:beginner'?s? guide|how to (?:play|draft|win)|strategy guide|explained|glossary|101|primer|scoring (?:rules|settings))\b`)
	toolExpr      = regexp.MustCompile(`\b(?:calculator|trade analyzer|simulator|optimizer|mock draft tool|who should i start tool)\b`)
	titleSuffixes = []string{" | ", " - ", " – ", " — ", " :: "}
)

// JunkPolicy decides what a reclassification pass does with rows whose
// stored topics contain no canonical tag.
type JunkPolicy string

const (
	JunkReclassify JunkPolicy = "reclassify"
	JunkPreserve   JunkPolicy = "preserve"
)

// Config tunes the classifier.
type Config struct {
	// PreseasonMonths yield week 0 when the title names no week.
	PreseasonMonths []time.Month
	Roster          []string
	JunkPolicy      JunkPolicy
}

// DefaultPreseasonMonths spans March through August.
var DefaultPreseasonMonths = []time.Month{time.March, time.April, time.May, time.June, time.July, time.August}

// Input is everything the classifier looks at.
type Input struct {
	Title   string
	URL     string
	Summary string
	// Reference anchors the preseason fallback. Zero disables it.
	Reference time.Time
}

// Result is the classifier output.
type Result struct {
	Topics       []string
	Primary      string
	Secondary    string
	Week         *int
	Players      []string
	IsStatic     bool
	StaticType   string
	CleanedTitle string
}

// Classifier is safe for concurrent use.
type Classifier struct {
	preseason map[time.Month]struct{}
	roster    []player
	policy    JunkPolicy
}

type player struct {
	name string
	expr *regexp.Regexp
}

// New builds a Classifier.
func New(cfg Config) *Classifier {
	months := cfg.PreseasonMonths
	if len(months) == 0 {
		months = DefaultPreseasonMonths
	}
	c := &Classifier{preseason: map[time.Month]struct{}{}, policy: cfg.JunkPolicy}
	for _, m := range months {
		c.preseason[m] = struct{}{}
	}
	if c.policy == "" {
		c.policy = JunkPreserve
	}
	seen := map[string]struct{}{}
	for _, name := range cfg.Roster {
		name = strings.Join(strings.Fields(name), " ")
		key := strings.ToLower(name)
		if name == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		c.roster = append(c.roster, player{
			name: name,
			expr: regexp.MustCompile(`(?i)\b` + strings.ReplaceAll(regexp.QuoteMeta(name), " ", `\s+`) + `\b`),
		})
	}
	return c
}

// Classify never fails; unmatched input is tagged as general news.
func (c *Classifier) Classify(in Input) Result {
	cleaned := CleanTitle(in.Title)
	text := normalize(cleaned + " " + in.Summary)

	var topics []string
	for _, r := range rules {
		if r.expr.MatchString(text) {
			topics = append(topics, r.topic)
		}
	}
	res := Result{CleanedTitle: cleaned}
	if len(topics) == 0 {
		res.Topics = []string{TopicNews}
		res.Primary = TopicNews
	} else {
		res.Topics = topics
		res.Primary = topics[0]
		if len(topics) > 1 {
			res.Secondary = topics[1]
		}
	}

	res.Week = c.week(cleaned, in.URL, in.Reference)
	res.Players = c.players(cleaned + " " + in.Summary)
	res.StaticType = staticType(normalize(cleaned + " " + slugText(in.URL)))
	res.IsStatic = res.StaticType != ""
	return res
}

func (c *Classifier) week(title, rawURL string, ref time.Time) *int {
	if m := weekExpr.FindStringSubmatch(title); m != nil {
		return clampWeek(m[1])
	}
	if u, err := url.Parse(rawURL); err == nil {
		if m := weekSlugExpr.FindStringSubmatch(u.Path); m != nil {
			return clampWeek(m[1])
		}
	}
	if ref.IsZero() {
		return nil
	}
	if _, ok := c.preseason[ref.Month()]; ok {
		zero := 0
		return &zero
	}
	return nil
}

func clampWeek(digits string) *int {
	n, err := strconv.Atoi(digits)
	if err != nil {
		return nil
	}
	if n > MaxWeek {
		n = MaxWeek
	}
	if n < 0 {
		n = 0
	}
	return &n
}

func (c *Classifier) players(text string) []string {
	var out []string
	for _, p := range c.roster {
		if p.expr.MatchString(text) {
			out = append(out, p.name)
		}
	}
	return out
}

func staticType(text string) string {
	switch {
	case toolExpr.MatchString(text):
		return StaticTool
	case guideExpr.MatchString(text):
		return StaticGuide
	}
	return ""
}

// NeedsReclassification reports whether stored topics should be recomputed.
// Empty topics always qualify; topics holding no canonical tag qualify only
// under JunkReclassify.
func (c *Classifier) NeedsReclassification(stored []string) bool {
	if len(stored) == 0 {
		return true
	}
	for _, t := range stored {
		if IsCanonicalTopic(t) {
			return false
		}
	}
	return c.policy == JunkReclassify
}

// IsCanonicalTopic reports whether t belongs to the closed vocabulary.
func IsCanonicalTopic(t string) bool {
	t = strings.ToLower(strings.TrimSpace(t))
	if t == TopicNews {
		return true
	}
	for _, r := range rules {
		if r.topic == t {
			return true
		}
	}
	return false
}

// CleanTitle unescapes entities, collapses whitespace and drops a trailing
// " | Site Name" style suffix.
func CleanTitle(title string) string {
	t := strings.Join(strings.Fields(html.UnescapeString(title)), " ")
	for _, sep := range titleSuffixes {
		i := strings.LastIndex(t, sep)
		if i < 10 {
			continue
		}
		suffix := t[i+len(sep):]
		if len(suffix) > 0 && len(suffix) <= 40 && !weekExpr.MatchString(suffix) {
			t = strings.TrimSpace(t[:i])
			break
		}
	}
	return t
}

func normalize(s string) string {
	s = strings.ToLower(s)
	s = strings.NewReplacer("’", "'", "‘", "'", "“", `"`, "”", `"`).Replace(s)
	return strings.Join(strings.Fields(s), " ")
}

func slugText(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.NewReplacer("-", " ", "_", " ", "/", " ").Replace(u.Path)
}
