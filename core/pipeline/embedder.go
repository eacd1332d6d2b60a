package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/knights-analytics/hugot"
	"github.com/siherrmann/ragbase/helper"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"
)

// DefaultEmbedder creates an embedder using a local sentence transformer
// model. Uses the all-MiniLM-L6-v2 model which produces 384-dimensional
// embeddings.
func DefaultEmbedder() (EmbedFunc, error) {
	// Prepare model (download if needed)
	modelName := "sentence-transformers/all-MiniLM-L6-v2"
	modelPath, err := helper.PrepareModel(modelName, "onnx/model.onnx")
	if err != nil {
		return nil, err
	}

	// Initialize hugot session with Go backend
	session, err := hugot.NewGoSession()
	if err != nil {
		return nil, fmt.Errorf("failed to create hugot session: %w", err)
	}

	// Create sentence transformers pipeline configuration
	config := hugot.FeatureExtractionConfig{
		ModelPath: modelPath,
		Name:      "embedder-pipeline",
	}
	sentencePipeline, err := hugot.NewPipeline(session, config)
	if err != nil {
		if destroyErr := session.Destroy(); destroyErr != nil {
			return nil, fmt.Errorf("failed to create sentence pipeline: %w (cleanup error: %v)", err, destroyErr)
		}
		return nil, fmt.Errorf("failed to create sentence pipeline: %w", err)
	}

	return func(ctx context.Context, text string) ([]float32, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		// Generate embedding for the text
		result, err := sentencePipeline.RunPipeline([]string{text})
		if err != nil {
			return nil, fmt.Errorf("failed to generate embedding: %w", err)
		}

		if len(result.Embeddings) == 0 {
			return nil, fmt.Errorf("no embedding generated")
		}

		// Extract the first (and only) embedding
		embedding := result.Embeddings[0]
		return embedding, nil
	}, nil
}

// RemoteEmbedderConfig configures an embedder backed by an OpenAI
// compatible embedding endpoint (e.g. a local inference server).
type RemoteEmbedderConfig struct {
	BaseURL string
	Model   string
	// Timeout bounds each embedding call, DefaultRemoteTimeout when unset
	Timeout time.Duration
}

// DefaultRemoteTimeout bounds remote embedding calls when no timeout is
// configured. Every remote call carries a deadline.
const DefaultRemoteTimeout = 30 * time.Second

func remoteTimeout(timeout time.Duration) time.Duration {
	if timeout <= 0 {
		return DefaultRemoteTimeout
	}
	return timeout
}

// RemoteEmbedder creates an embedder that calls an OpenAI compatible
// embedding API. Failures are reported as connectivity errors so callers
// can isolate them per chunk.
func RemoteEmbedder(config RemoteEmbedderConfig) (EmbedFunc, error) {
	if config.BaseURL == "" {
		return nil, helper.NewValidationError("remote embedder configuration", fmt.Errorf("base URL must be set"))
	}
	if config.Model == "" {
		return nil, helper.NewValidationError("remote embedder configuration", fmt.Errorf("model must be set"))
	}

	client, err := openai.New(
		openai.WithBaseURL(config.BaseURL),
		openai.WithToken("none"),
		openai.WithEmbeddingModel(config.Model),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding client: %w", err)
	}

	embedder, err := embeddings.NewEmbedder(client, embeddings.WithStripNewLines(true))
	if err != nil {
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	}

	timeout := remoteTimeout(config.Timeout)

	return func(ctx context.Context, text string) ([]float32, error) {
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		embedding, err := embedder.EmbedQuery(ctx, text)
		if err != nil {
			return nil, helper.NewConnectivityError("remote embedding", err)
		}
		return embedding, nil
	}, nil
}
