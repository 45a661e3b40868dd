package domain

// Source describes an upstream publisher. It is owned by the admin surface;
// the pipeline only reads it.
type Source struct {
	ID       string
	Name     string
	Allowed  bool
	Adapter  string
	FeedURL  string
	Selector string
	Options  map[string]string
}
