package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"NewsIngest/internal/domain"
	"NewsIngest/internal/merge"
	"NewsIngest/internal/ports"
)

var _ ports.ArticleRepository = (*Store)(nil)

var articleColumns = []string{
	"canonical_url", "url", "source_id", "title", "cleaned_title", "author", "description",
	"published_at", "published_raw", "published_source", "published_confidence", "published_timezone",
	"domain", "fingerprint", "topics", "primary_topic", "secondary_topic", "week", "players",
	"image_url", "image_checked_at", "is_static", "static_type", "discovered_at", "updated_at",
}

// Upsert inserts a new article or merges patch into the row stored under any
// of the identity variants. Concurrent callers converge: a lost insert race
// falls through to the merge path.
func (s *Store) Upsert(ctx context.Context, id domain.Identity, patch domain.ArticlePatch) (domain.UpsertResult, error) {
	if id.Canonical == "" {
		return domain.UpsertResult{}, fmt.Errorf("upsert article: empty identity")
	}

	for attempt := 0; attempt < 2; attempt++ {
		now := s.now()
		existing, err := s.findArticle(ctx, id)
		if errors.Is(err, ErrNotFound) {
			article := merge.New(id.Canonical, patch, now)
			inserted, err := s.insertArticle(ctx, article)
			if err != nil {
				return domain.UpsertResult{}, fmt.Errorf("upsert article %s: %w", id.Canonical, err)
			}
			if inserted {
				return domain.UpsertResult{Inserted: true, Changed: true, Article: article}, nil
			}
			continue
		}
		if err != nil {
			return domain.UpsertResult{}, fmt.Errorf("upsert article %s: %w", id.Canonical, err)
		}

		merged, fields := merge.ApplyFields(existing, patch)
		if len(fields) == 0 {
			return domain.UpsertResult{Article: existing}, nil
		}
		merged.UpdatedAt = now
		if err := s.updateArticle(ctx, merged, fields); err != nil {
			return domain.UpsertResult{}, fmt.Errorf("upsert article %s: %w", id.Canonical, err)
		}
		return domain.UpsertResult{Changed: true, Article: merged}, nil
	}
	return domain.UpsertResult{}, fmt.Errorf("upsert article %s: row vanished after insert conflict", id.Canonical)
}

// MarkImage records an image check; a non-empty imageURL also replaces the image.
func (s *Store) MarkImage(ctx context.Context, canonical, imageURL string, checkedAt time.Time) error {
	set := map[string]any{"image_checked_at": s.ts(checkedAt)}
	if imageURL != "" {
		set["image_url"] = imageURL
		set["updated_at"] = s.ts(checkedAt)
	}
	res, err := s.exec(ctx, s.sb.Update("articles").SetMap(set).Where(sq.Eq{"canonical_url": canonical}))
	if err != nil {
		return fmt.Errorf("mark image %s: %w", canonical, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("mark image %s: %w", canonical, ErrNotFound)
	}
	return nil
}

// GetArticle loads one article by canonical URL.
func (s *Store) GetArticle(ctx context.Context, canonical string) (domain.Article, error) {
	row, err := s.queryRow(ctx, s.sb.Select(articleColumns...).From("articles").Where(sq.Eq{"canonical_url": canonical}))
	if err != nil {
		return domain.Article{}, err
	}
	a, err := scanArticle(row)
	if err != nil {
		return domain.Article{}, notFound(err, "get article "+canonical)
	}
	return a, nil
}

// ListForReclassify returns the most recently discovered articles.
func (s *Store) ListForReclassify(ctx context.Context, limit int) ([]domain.Article, error) {
	b := s.sb.Select(articleColumns...).From("articles").OrderBy("discovered_at DESC", "canonical_url")
	if limit > 0 {
		b = b.Limit(uint64(limit))
	}
	rows, err := s.query(ctx, b)
	if err != nil {
		return nil, fmt.Errorf("list articles: %w", err)
	}
	defer rows.Close()

	var out []domain.Article
	for rows.Next() {
		a, err := scanArticle(rows)
		if err != nil {
			return nil, fmt.Errorf("scan article: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return out, nil
}

// CountArticles returns the number of stored articles.
func (s *Store) CountArticles(ctx context.Context) (int, error) {
	row, err := s.queryRow(ctx, s.sb.Select("COUNT(*)").From("articles"))
	if err != nil {
		return 0, err
	}
	var n int
	if err := row.Scan(&n); err != nil {
		return 0, fmt.Errorf("count articles: %w", err)
	}
	return n, nil
}

func (s *Store) findArticle(ctx context.Context, id domain.Identity) (domain.Article, error) {
	a, err := s.GetArticle(ctx, id.Canonical)
	if err == nil || !errors.Is(err, ErrNotFound) {
		return a, err
	}

	alts := id.Alternates()
	if len(alts) == 0 {
		return domain.Article{}, err
	}
	row, qerr := s.queryRow(ctx, s.sb.Select(articleColumns...).From("articles").
		Where(sq.Or{
			sq.Eq{"canonical_url": alts},
			sq.Eq{"url": append([]string{id.Canonical}, alts...)},
		}).
		OrderBy("discovered_at", "canonical_url").
		Limit(1))
	if qerr != nil {
		return domain.Article{}, qerr
	}
	a, err = scanArticle(row)
	if err != nil {
		return domain.Article{}, notFound(err, "find article "+id.Canonical)
	}
	return a, nil
}

func (s *Store) insertArticle(ctx context.Context, a domain.Article) (bool, error) {
	values := s.articleValues(a)
	cols := make([]string, 0, len(articleColumns))
	vals := make([]any, 0, len(articleColumns))
	for _, c := range articleColumns {
		cols = append(cols, c)
		vals = append(vals, values[c])
	}
	res, err := s.exec(ctx, s.sb.Insert("articles").
		Columns(cols...).
		Values(vals...).
		Suffix("ON CONFLICT (canonical_url) DO NOTHING"))
	if err != nil {
		return false, fmt.Errorf("insert article: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert article rows affected: %w", err)
	}
	return n > 0, nil
}

// fieldColumns maps merge fields onto the columns they own.
var fieldColumns = map[string][]string{
	merge.FieldPublished: {"published_at", "published_raw", "published_source", "published_confidence", "published_timezone"},
}

func (s *Store) updateArticle(ctx context.Context, a domain.Article, fields []string) error {
	values := s.articleValues(a)
	set := map[string]any{"updated_at": values["updated_at"]}
	for _, f := range fields {
		cols, ok := fieldColumns[f]
		if !ok {
			cols = []string{f}
		}
		for _, c := range cols {
			set[c] = values[c]
		}
	}
	if _, err := s.exec(ctx, s.sb.Update("articles").SetMap(set).Where(sq.Eq{"canonical_url": a.CanonicalURL})); err != nil {
		return fmt.Errorf("update article: %w", err)
	}
	return nil
}

func (s *Store) articleValues(a domain.Article) map[string]any {
	var week any
	if a.Week != nil {
		week = *a.Week
	}
	return map[string]any{
		"canonical_url":        a.CanonicalURL,
		"url":                  a.URL,
		"source_id":            a.SourceID,
		"title":                a.Title,
		"cleaned_title":        a.CleanedTitle,
		"author":               a.Author,
		"description":          a.Description,
		"published_at":         s.tsPtr(a.PublishedAt),
		"published_raw":        a.PublishedRaw,
		"published_source":     string(a.PublishedSource),
		"published_confidence": a.PublishedConfidence,
		"published_timezone":   a.PublishedTimezone,
		"domain":               a.Domain,
		"fingerprint":          a.Fingerprint,
		"topics":               encodeList(a.Topics),
		"primary_topic":        a.PrimaryTopic,
		"secondary_topic":      a.SecondaryTopic,
		"week":                 week,
		"players":              encodeList(a.Players),
		"image_url":            a.ImageURL,
		"image_checked_at":     s.tsPtr(a.ImageCheckedAt),
		"is_static":            a.IsStatic,
		"static_type":          a.StaticType,
		"discovered_at":        s.ts(a.DiscoveredAt),
		"updated_at":           s.ts(a.UpdatedAt),
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanArticle(r rowScanner) (domain.Article, error) {
	var (
		a                                domain.Article
		publishedAt, imageCheckedAt      sql.NullString
		discoveredAt, updatedAt          sql.NullString
		publishedSource, topics, players string
		week                             sql.NullInt64
	)
	err := r.Scan(
		&a.CanonicalURL, &a.URL, &a.SourceID, &a.Title, &a.CleanedTitle, &a.Author, &a.Description,
		&publishedAt, &a.PublishedRaw, &publishedSource, &a.PublishedConfidence, &a.PublishedTimezone,
		&a.Domain, &a.Fingerprint, &topics, &a.PrimaryTopic, &a.SecondaryTopic, &week, &players,
		&a.ImageURL, &imageCheckedAt, &a.IsStatic, &a.StaticType, &discoveredAt, &updatedAt,
	)
	if err != nil {
		return domain.Article{}, err
	}
	a.PublishedAt = parseTS(publishedAt)
	a.PublishedSource = domain.DateSource(publishedSource)
	a.Topics = decodeList(topics)
	a.Players = decodeList(players)
	if week.Valid {
		w := int(week.Int64)
		a.Week = &w
	}
	a.ImageCheckedAt = parseTS(imageCheckedAt)
	a.DiscoveredAt = mustTS(discoveredAt)
	a.UpdatedAt = mustTS(updatedAt)
	return a, nil
}

func encodeList(v []string) string {
	if len(v) == 0 {
		return "[]"
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "[]"
	}
	return string(b)
}

func decodeList(raw string) []string {
	var out []string
	if err := json.Unmarshal([]byte(raw), &out); err != nil || len(out) == 0 {
		return nil
	}
	return out
}
