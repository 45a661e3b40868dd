package domain

import (
	"strings"
	"time"
)

// Opt is a tagged present/absent value used by ArticlePatch.
type Opt[T any] struct {
	Value T
	Set   bool
}

// Some wraps a present value.
func Some[T any](v T) Opt[T] {
	return Opt[T]{Value: v, Set: true}
}

// None returns an absent value.
func None[T any]() Opt[T] {
	return Opt[T]{}
}

// Get returns the value and whether it is present.
func (o Opt[T]) Get() (T, bool) {
	return o.Value, o.Set
}

// SomeString is present only for non-blank strings.
func SomeString(v string) Opt[string] {
	v = strings.TrimSpace(v)
	if v == "" {
		return Opt[string]{}
	}
	return Some(v)
}

// SomeStrings is present only for non-empty slices.
func SomeStrings(v []string) Opt[[]string] {
	if len(v) == 0 {
		return Opt[[]string]{}
	}
	return Some(v)
}

// PublishedPatch groups the fields produced by the date resolver; they are
// written together or not at all.
type PublishedPatch struct {
	At         time.Time
	Raw        string
	Source     DateSource
	Confidence int
	Timezone   string
}

// ArticlePatch is a partial update: every absent field leaves the stored value alone.
type ArticlePatch struct {
	URL            Opt[string]
	SourceID       Opt[string]
	Title          Opt[string]
	CleanedTitle   Opt[string]
	Author         Opt[string]
	Description    Opt[string]
	Published      Opt[PublishedPatch]
	Domain         Opt[string]
	Fingerprint    Opt[string]
	Topics         Opt[[]string]
	PrimaryTopic   Opt[string]
	SecondaryTopic Opt[string]
	Week           Opt[int]
	Players        Opt[[]string]
	ImageURL       Opt[string]
	IsStatic       Opt[bool]
	StaticType     Opt[string]
}
