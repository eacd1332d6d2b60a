package main

import (
	"context"
	"fmt"
	"log"

	"github.com/siherrmann/ragbase"
	"github.com/siherrmann/ragbase/helper"
	"github.com/siherrmann/ragbase/model"
)

const sampleContent = `This is a sample document about hybrid retrieval.

Retrieval-augmented generation grounds language model answers in an external knowledge base.
Documents are split into chunks, embedded and stored alongside the raw text.

PostgreSQL with the pgvector extension can serve as the vector store.
The pg_trgm extension adds fuzzy keyword matching on top of it.

Combining vector similarity and keyword search with reciprocal rank fusion
catches both semantic matches and exact terms like error codes or product names.`

func main() {
	// Start a test PostgreSQL container
	teardown, dbPort, err := helper.MustStartPostgresContainer()
	if err != nil {
		log.Fatalf("Failed to start PostgreSQL container: %v", err)
	}
	defer teardown(context.Background())

	// Create database configuration using the container port
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

	// Set up the default pipeline (section chunking + embeddings)
	if err := r.UseDefaultPipeline(); err != nil {
		log.Fatalf("Failed to set up pipeline: %v", err)
	}

	doc := &model.Document{
		Title:   "Introduction to Hybrid Retrieval",
		Source:  "basic_example",
		Content: sampleContent,
		Metadata: model.Metadata{
			"author": "Example Author",
			"topic":  "retrieval",
		},
	}

	// Process and insert document in one call
	fmt.Println("Ingesting document...")
	numChunks, chunkErrors, err := r.ProcessAndInsertDocument(context.Background(), doc)
	if err != nil {
		log.Fatalf("Failed to process and insert document: %v", err)
	}
	fmt.Printf("Document inserted with ID: %s\n", doc.RID)
	fmt.Printf("Inserted %d chunks (%d embedding errors)\n", numChunks, len(chunkErrors))

	queryText := "How does hybrid search combine vector and keyword results?"

	fmt.Printf("\nQuerying: %s\n", queryText)

	config := model.DefaultQueryConfig()
	config.TopK = 5
	config.SimilarityThreshold = 0.0

	results, err := r.HybridSearch(context.Background(), queryText, &config)
	if err != nil {
		log.Fatalf("Failed to search: %v", err)
	}

	// Display results
	fmt.Printf("\nFound %d results:\n", len(results))
	for i, result := range results {
		fmt.Printf("\n--- Result %d ---\n", i+1)
		fmt.Printf("Score: %.4f\n", result.Similarity)
		fmt.Printf("Content: %s\n", result.Content)
		fmt.Printf("Document: %s\n", result.DocumentTitle)
		fmt.Printf("Method: %s\n", result.RetrievalMethod)
	}

	// Assemble a prompt context from the results
	fmt.Println("\nContext for prompt assembly:")
	fmt.Println(r.BuildContext(results))

	fmt.Println("\nBasic example completed successfully!")
}
