package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/schollz/progressbar/v3"
	"github.com/siherrmann/ragbase"
	"github.com/siherrmann/ragbase/helper"
	"github.com/siherrmann/ragbase/model"
)

var sampleDocuments = map[string]string{
	"postgres.md": `# PostgreSQL Basics

PostgreSQL is an open source relational database.
VACUUM reclaims storage occupied by dead tuples.

## Indexing

B-tree indexes cover most queries, GIN indexes serve full text and trigram search.`,
	"vectors.md": `# Vector Search

The pgvector extension stores embeddings and answers nearest neighbor queries.
HNSW indexes trade build time for query speed, IVFFlat trades recall for memory.`,
	"retrieval.txt": `Hybrid retrieval fuses vector similarity with keyword matching.
Reciprocal rank fusion merges the two ranked lists without score calibration.`,
}

func main() {
	dir := flag.String("dir", "", "directory to ingest, a sample corpus is generated when empty")
	clean := flag.Bool("clean", false, "delete existing documents before ingesting")
	query := flag.String("query", "How does vector search work?", "query to run after ingestion")
	flag.Parse()

	// Start a test PostgreSQL container
	teardown, dbPort, err := helper.MustStartPostgresContainer()
	if err != nil {
		log.Fatalf("Failed to start PostgreSQL container: %v", err)
	}
	defer teardown(context.Background())

	dbConfig := &helper.DatabaseConfiguration{
		Host:     "localhost",
		Port:     dbPort,
		Database: "database",
		Username: "user",
		Password: "password",
		Schema:   "public",
		SSLMode:  "disable",
	}

	r, err := ragbase.NewRagBase(dbConfig, 384)
	if err != nil {
		log.Fatalf("Failed to create ragbase: %v", err)
	}
	defer r.Close()

	if err := r.UseDefaultPipeline(); err != nil {
		log.Fatalf("Failed to set up pipeline: %v", err)
	}

	// Generate a small sample corpus when no directory was given
	target := *dir
	if target == "" {
		target, err = os.MkdirTemp("", "ragbase-ingest")
		if err != nil {
			log.Fatalf("Failed to create sample directory: %v", err)
		}
		defer os.RemoveAll(target)

		for name, content := range sampleDocuments {
			if err := os.WriteFile(filepath.Join(target, name), []byte(content), 0o644); err != nil {
				log.Fatalf("Failed to write sample file: %v", err)
			}
		}
		fmt.Printf("Ingesting generated sample corpus from %s\n", target)
	} else {
		fmt.Printf("Ingesting %s\n", target)
	}

	var bar *progressbar.ProgressBar
	summary, err := r.IngestDirectory(context.Background(), target, ragbase.IngestOptions{
		CleanBeforeIngest: *clean,
		Progress: func(done int, total int) {
			if bar == nil {
				bar = progressbar.NewOptions(total,
					progressbar.OptionSetDescription("Ingesting documents"),
					progressbar.OptionShowCount(),
				)
			}
			bar.Set(done)
		},
	})
	if err != nil {
		log.Fatalf("Failed to ingest directory: %v", err)
	}

	fmt.Printf("\n\nProcessed %d files: %d succeeded, %d failed, %d chunks created\n",
		summary.Processed, summary.Succeeded, summary.Failed, summary.ChunksCreated)
	for _, result := range summary.Results {
		if result.Err != nil {
			fmt.Printf("  failed %s: %v\n", result.Path, result.Err)
		}
	}

	fmt.Printf("\nQuerying: %s\n", *query)

	config := model.DefaultQueryConfig()
	config.TopK = 3
	config.SimilarityThreshold = 0.0

	results, err := r.HybridSearch(context.Background(), *query, &config)
	if err != nil {
		log.Fatalf("Failed to search: %v", err)
	}

	for i, result := range results {
		fmt.Printf("\n--- Result %d (%.4f, %s) ---\n", i+1, result.Similarity, result.DocumentTitle)
		fmt.Printf("%s\n", result.Content)
	}

	fmt.Println("\nIngestion example completed successfully!")
}
