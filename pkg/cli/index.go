package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/sensei/pkg/adapter"
	"github.com/m-mizutani/sensei/pkg/rag"
	"github.com/m-mizutani/sensei/pkg/utils/logging"
	"github.com/urfave/cli/v3"
)

func indexCommand() *cli.Command {
	var (
		cfg       config
		source    string
		chunkSize int64
		overlap   int64
	)

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "source",
			Aliases:     []string{"s"},
			Usage:       "Corpus source: a local directory or gs://bucket/prefix",
			Required:    true,
			Sources:     cli.EnvVars("SENSEI_CORPUS_SOURCE"),
			Destination: &source,
		},
		&cli.IntFlag{
			Name:        "chunk-size",
			Usage:       "Target chunk size in characters",
			Value:       500,
			Destination: &chunkSize,
		},
		&cli.IntFlag{
			Name:        "overlap",
			Usage:       "Character overlap between consecutive chunks",
			Value:       50,
			Destination: &overlap,
		},
	}
	flags = append(flags, globalFlags(&cfg)...)
	flags = append(flags, llmFlags(&cfg)...)

	return &cli.Command{
		Name:  "index",
		Usage: "Rebuild the knowledge index from a markdown corpus",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx = cfg.setupLogger(ctx)

			gemini, err := cfg.newGemini(ctx)
			if err != nil {
				return err
			}

			index, err := cfg.newIndex(gemini)
			if err != nil {
				return err
			}

			docs, err := loadCorpus(ctx, source)
			if err != nil {
				return err
			}
			if len(docs) == 0 {
				return goerr.New("no markdown documents found", goerr.V("source", source))
			}

			indexer := rag.NewIndexer(rag.WithChunkSize(int(chunkSize)), rag.WithOverlap(int(overlap)))
			chunks := indexer.Chunk(docs)

			logging.From(ctx).Info("rebuilding knowledge index",
				"documents", len(docs),
				"chunks", len(chunks),
			)

			if err := index.Rebuild(ctx, chunks); err != nil {
				return err
			}

			fmt.Fprintf(c.Root().Writer, "Indexed %d chunks from %d documents\n", index.Count(), len(docs))
			return nil
		},
	}
}

// loadCorpus reads every markdown file from a local directory or a Cloud
// Storage location of the form gs://bucket/prefix
func loadCorpus(ctx context.Context, source string) ([]rag.Document, error) {
	if rest, ok := strings.CutPrefix(source, "gs://"); ok {
		bucket, prefix, _ := strings.Cut(rest, "/")
		if bucket == "" {
			return nil, goerr.New("bucket name is required", goerr.V("source", source))
		}
		return loadBucketCorpus(ctx, bucket, prefix)
	}
	return loadDirCorpus(source)
}

func loadDirCorpus(dir string) ([]rag.Document, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read corpus directory", goerr.V("dir", dir))
	}

	var docs []rag.Document
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".md") {
			continue
		}

		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, goerr.Wrap(err, "failed to read corpus file", goerr.V("file", entry.Name()))
		}
		docs = append(docs, rag.Document{Name: entry.Name(), Content: string(data)})
	}

	return docs, nil
}

func loadBucketCorpus(ctx context.Context, bucket, prefix string) ([]rag.Document, error) {
	store, err := adapter.NewStorage(ctx, bucket)
	if err != nil {
		return nil, err
	}

	keys, err := store.List(ctx, prefix)
	if err != nil {
		return nil, err
	}

	var docs []rag.Document
	for _, key := range keys {
		if !strings.HasSuffix(key, ".md") {
			continue
		}

		r, err := store.Get(ctx, key)
		if err != nil {
			return nil, err
		}
		data, err := io.ReadAll(r)
		r.Close()
		if err != nil {
			return nil, goerr.Wrap(err, "failed to read corpus object", goerr.V("key", key))
		}

		docs = append(docs, rag.Document{Name: filepath.Base(key), Content: string(data)})
	}

	return docs, nil
}
