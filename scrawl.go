// Copyright 2025 Antfly, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package scrawl serves handwritten math expression recognition: uploads
// come in as images, beam search over an attention-based encoder-decoder
// model turns them into LaTeX token sequences.
package scrawl

import (
	"context"
	"net/http"
	"net/url"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/antflydb/scrawl/lib/backends"
	"github.com/antflydb/scrawl/lib/beam"
	"github.com/antflydb/scrawl/lib/imaging"
	"github.com/antflydb/scrawl/lib/token"
)

// corsMiddleware adds permissive CORS headers for the Scrawl API
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS, PATCH")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Requested-With, Accept, Origin")
		w.Header().Set("Access-Control-Max-Age", "3600")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// DefaultShutdownTimeout is the default time to wait for graceful shutdown
const DefaultShutdownTimeout = 30 * time.Second

// RunAsScrawl runs the recognition node: it loads the vocabulary and
// checkpoint once, then serves the HTTP API until ctx is cancelled.
// If readyC is non-nil, it will be closed when the server is ready to
// accept requests.
func RunAsScrawl(ctx context.Context, zl *zap.Logger, config Config, readyC chan struct{}) {
	zl = zl.Named("scrawl")
	zl.Info("Starting scrawl node", zap.Any("config", config))

	u, err := url.Parse(config.ApiUrl)
	if err != nil {
		zl.Fatal("Invalid API URL", zap.String("url", config.ApiUrl), zap.Error(err))
	}

	// The vocabulary is loaded exactly once and shared by reference.
	codec, err := token.LoadVocabulary(config.VocabularyPath)
	if err != nil {
		zl.Fatal("Failed to load vocabulary",
			zap.String("path", config.VocabularyPath),
			zap.Error(err))
	}
	zl.Info("Loaded vocabulary", zap.Int("tokens", codec.Len()))

	loadStart := time.Now()
	checkpoint, err := backends.LoadCheckpoint(config.CheckpointPath, config.Device())
	if err != nil {
		zl.Fatal("Failed to load checkpoint",
			zap.String("path", config.CheckpointPath),
			zap.String("device", string(config.Device())),
			zap.Error(err))
	}
	defer func() { _ = checkpoint.Close() }()
	RecordModelLoadDuration(checkpoint.Name, time.Since(loadStart).Seconds())
	zl.Info("Loaded checkpoint",
		zap.String("checkpoint", checkpoint.Name),
		zap.String("device", string(config.Device())),
		zap.Duration("took", time.Since(loadStart)))

	if config.UploadDir != "" {
		if err := os.MkdirAll(config.UploadDir, 0o755); err != nil {
			zl.Fatal("Failed to create upload directory",
				zap.String("dir", config.UploadDir),
				zap.Error(err))
		}
	}

	model := NewModelRecognizer(checkpoint, codec, imaging.NewProcessor(nil), beam.Config{
		Width:     config.BeamWidth,
		MaxSteps:  config.MaxSteps,
		StopOnEnd: config.StopOnEnd,
	})

	cachedRecognizer := NewCachedRecognizer(model, zl.Named("decode-cache"))
	defer func() { _ = cachedRecognizer.Close() }()

	node := &ScrawlNode{
		logger: zl,

		recognizer:     cachedRecognizer,
		checkpointName: checkpoint.Name,
		vocabSize:      codec.Len(),
		uploadDir:      config.UploadDir,
	}

	srv := &http.Server{
		Addr:        u.Host,
		Handler:     corsMiddleware(node.routes()),
		ReadTimeout: 540 * time.Second,
	}

	// Start server in goroutine
	serverErr := make(chan error, 1)
	go func() {
		zl.Info("Scrawl's api server starting", zap.String("address", config.ApiUrl))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
		close(serverErr)
	}()

	// Signal readiness after server starts
	if readyC != nil {
		close(readyC)
	}

	// Wait for context cancellation or server error
	select {
	case err := <-serverErr:
		if err != nil {
			zl.Fatal("HTTP server error", zap.Error(err))
		}
	case <-ctx.Done():
		zl.Info("Shutdown signal received, starting graceful shutdown...")
	}

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
	defer shutdownCancel()

	// Stop accepting new connections
	srv.SetKeepAlivesEnabled(false)

	// Attempt graceful shutdown
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zl.Warn("Graceful shutdown failed, forcing close",
			zap.Error(err),
			zap.Duration("timeout", DefaultShutdownTimeout))
		_ = srv.Close()
	} else {
		zl.Info("Graceful shutdown completed successfully")
	}

	zl.Info("HTTP server stopped")
}
