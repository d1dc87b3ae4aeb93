package model

import "strings"

// KnowledgeChunk is one retrievable unit of the knowledge corpus.
// Chunks are immutable after an index build.
type KnowledgeChunk struct {
	ID         string `json:"id"`
	Text       string `json:"text"`
	Source     string `json:"source"`
	Section    string `json:"section,omitempty"`
	Subsection string `json:"subsection,omitempty"`
}

// Citation returns the human-readable source reference for the chunk
func (c *KnowledgeChunk) Citation() Citation {
	return Citation{
		Source:  c.Source,
		Section: joinSection(c.Section, c.Subsection),
	}
}

func joinSection(section, subsection string) string {
	if subsection == "" {
		return section
	}
	if section == "" {
		return subsection
	}
	return section + " > " + subsection
}

// Citation references a knowledge chunk used to ground an answer
type Citation struct {
	Source  string `json:"source"`
	Section string `json:"section,omitempty"`
}

func (c Citation) String() string {
	if c.Section == "" {
		return c.Source
	}
	return c.Source + " > " + c.Section
}

// RetrievedChunk is a chunk paired with its query relevance
type RetrievedChunk struct {
	KnowledgeChunk
	Relevance float64 `json:"relevance_score"`
}

// RetrievalResult is the output of one retrieval call
type RetrievalResult struct {
	Chunks []RetrievedChunk `json:"chunks"`
	Count  int              `json:"count"`
}

// MatchesFilter reports whether the chunk's citation contains any of the
// given keywords, case-insensitive. An empty filter set matches everything.
func (c *KnowledgeChunk) MatchesFilter(filters []string) bool {
	if len(filters) == 0 {
		return true
	}
	haystack := strings.ToLower(c.Source + " " + c.Section + " " + c.Subsection)
	for _, f := range filters {
		if f == "" {
			continue
		}
		if strings.Contains(haystack, strings.ToLower(f)) {
			return true
		}
	}
	return false
}
