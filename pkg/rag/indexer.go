package rag

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/m-mizutani/sensei/pkg/model"
)

var headerPattern = regexp.MustCompile(`^(#{2,4})\s+(.+)$`)

const (
	defaultChunkSize = 500
	defaultOverlap   = 50
)

// Indexer splits source documents into retrievable chunks. Documents are
// first split into header-delimited sections, then packed into overlapping
// fixed-size text windows so context survives chunk boundaries.
type Indexer struct {
	chunkSize int
	overlap   int
}

type IndexerOption func(*Indexer)

// WithChunkSize sets the target chunk size in characters
func WithChunkSize(size int) IndexerOption {
	return func(ix *Indexer) {
		if size > 0 {
			ix.chunkSize = size
		}
	}
}

// WithOverlap sets the character overlap between consecutive chunks
func WithOverlap(overlap int) IndexerOption {
	return func(ix *Indexer) {
		if overlap >= 0 {
			ix.overlap = overlap
		}
	}
}

func NewIndexer(opts ...IndexerOption) *Indexer {
	ix := &Indexer{
		chunkSize: defaultChunkSize,
		overlap:   defaultOverlap,
	}
	for _, opt := range opts {
		opt(ix)
	}
	return ix
}

// Document is one markdown source file of the knowledge corpus
type Document struct {
	Name    string
	Content string
}

type section struct {
	section    string
	subsection string
	text       string
}

// Chunk splits all documents into knowledge chunks
func (ix *Indexer) Chunk(docs []Document) []model.KnowledgeChunk {
	var chunks []model.KnowledgeChunk

	for _, doc := range docs {
		seq := 0
		for _, sec := range splitSections(doc.Content) {
			for _, text := range ix.window(sec.text) {
				chunks = append(chunks, model.KnowledgeChunk{
					ID:         fmt.Sprintf("%s#%04d", doc.Name, seq),
					Text:       text,
					Source:     doc.Name,
					Section:    sec.section,
					Subsection: sec.subsection,
				})
				seq++
			}
		}
	}

	return chunks
}

// splitSections walks the markdown line by line: "##" opens a new section,
// "###" and "####" open a subsection within it
func splitSections(content string) []section {
	var sections []section
	current := section{}
	var buf []string

	flush := func() {
		text := strings.TrimSpace(strings.Join(buf, "\n"))
		// Preamble before the first header (typically the document title)
		// is not retrievable content
		if text != "" && (current.section != "" || current.subsection != "") {
			sec := current
			sec.text = text
			sections = append(sections, sec)
		}
		buf = nil
	}

	for _, line := range strings.Split(content, "\n") {
		m := headerPattern.FindStringSubmatch(line)
		if m == nil {
			buf = append(buf, line)
			continue
		}

		flush()
		title := strings.TrimSpace(m[2])
		if len(m[1]) == 2 {
			current.section = title
			current.subsection = ""
		} else {
			current.subsection = title
		}
	}
	flush()

	return sections
}

// window packs paragraphs into chunks of at most chunkSize characters,
// carrying the trailing overlap characters into the next chunk
func (ix *Indexer) window(text string) []string {
	if len(text) <= ix.chunkSize {
		return []string{text}
	}

	var out []string
	current := ""

	for _, p := range strings.Split(text, "\n\n") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}

		switch {
		case current == "":
			current = p
		case len(current)+len(p)+2 <= ix.chunkSize:
			current = current + "\n\n" + p
		default:
			out = append(out, current)
			if tail := overlapTail(current, ix.overlap); tail != "" {
				current = tail + "\n" + p
			} else {
				current = p
			}
		}

		// Hard-split accumulations that alone exceed the window
		for len(current) > ix.chunkSize {
			out = append(out, current[:ix.chunkSize])
			start := ix.chunkSize - ix.overlap
			if start < 0 {
				start = 0
			}
			current = current[start:]
		}
	}

	if strings.TrimSpace(current) != "" {
		out = append(out, strings.TrimSpace(current))
	}

	return out
}

func overlapTail(s string, overlap int) string {
	if overlap <= 0 {
		return ""
	}
	if len(s) <= overlap {
		return s
	}
	return s[len(s)-overlap:]
}
