package domain

// KnowledgeEntry is a unit of curated reference text used to ground replies.
type KnowledgeEntry struct {
	ID        string   `yaml:"id,omitempty"`
	Title     string   `yaml:"title"`
	Content   string   `yaml:"content"`
	Tags      []string `yaml:"tags,omitempty"`
	Category  string   `yaml:"category,omitempty"`
	EntryType string   `yaml:"entry_type,omitempty"`
	Priority  int      `yaml:"priority,omitempty"`
}

// ScoredEntry pairs a knowledge entry with its relevance for one query.
// It is never persisted.
type ScoredEntry struct {
	Entry KnowledgeEntry
	Score int
}
