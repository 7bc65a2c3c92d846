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

package scrawl

import (
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/bytedance/sonic/encoder"
	"go.uber.org/zap"

	"github.com/antflydb/scrawl/lib/imaging"
)

// uploadCanvasSize is the square canvas uploaded expressions are resized
// to before decoding and persistence.
const uploadCanvasSize = 256

// ScrawlNode serves the recognition API for one loaded checkpoint.
type ScrawlNode struct {
	logger *zap.Logger

	recognizer     Recognizer
	checkpointName string
	vocabSize      int

	// uploadDir persists uploads by their client-supplied name,
	// overwriting earlier uploads of the same name. Empty disables it.
	uploadDir string
}

// VersionResponse is the response for /api/version
type VersionResponse struct {
	Version   string `json:"version"`
	GitCommit string `json:"git_commit"`
	BuildTime string `json:"build_time"`
}

// routes builds the node's HTTP mux.
func (sn *ScrawlNode) routes() *http.ServeMux {
	mux := http.NewServeMux()

	// Health endpoints (outside /api prefix for k8s compatibility)
	mux.HandleFunc("GET /healthz", sn.handleHealthz)
	mux.HandleFunc("GET /readyz", sn.handleReadyz)

	mux.HandleFunc("POST /api/recognize", sn.handleRecognize)
	mux.HandleFunc("GET /api/version", sn.handleVersion)

	return mux
}

// handleRecognize accepts a multipart upload in the input_image field and
// responds with the decoded LaTeX token string. A request without the field
// answers with the literal body "failed"; drawing-pad clients match on that
// exact string.
func (sn *ScrawlNode) handleRecognize(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	file, header, err := r.FormFile("input_image")
	if err != nil {
		sn.logger.Warn("Recognition request without input_image field", zap.Error(err))
		RecordRecognizeRequest("missing_file")
		RecordRequestDuration("recognize", "missing_file", time.Since(start).Seconds())
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("failed"))
		return
	}
	defer file.Close()

	raw, err := io.ReadAll(file)
	if err != nil {
		sn.failRecognize(w, start, "read_error", "Reading upload failed", err)
		return
	}

	resized, err := imaging.ResizeEncoded(raw, uploadCanvasSize, uploadCanvasSize)
	if err != nil {
		sn.failRecognize(w, start, "bad_image", "Upload is not a decodable image", err)
		return
	}

	if sn.uploadDir != "" {
		name := filepath.Base(header.Filename)
		if err := os.WriteFile(filepath.Join(sn.uploadDir, name), resized, 0o644); err != nil {
			sn.logger.Warn("Persisting upload failed",
				zap.String("name", name),
				zap.Error(err))
		}
	}

	result, err := sn.recognizer.Recognize(r.Context(), resized)
	if err != nil {
		sn.failRecognize(w, start, "decode_error", "Decoding expression failed", err)
		return
	}

	sn.logger.Info("Recognized expression",
		zap.String("name", header.Filename),
		zap.String("latex", result.Latex),
		zap.Float64("probability", result.Probability))
	RecordRecognizeRequest("ok")
	RecordRequestDuration("recognize", "ok", time.Since(start).Seconds())

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte(result.Latex))
}

func (sn *ScrawlNode) failRecognize(w http.ResponseWriter, start time.Time, status, msg string, err error) {
	sn.logger.Error(msg, zap.Error(err))
	RecordRecognizeRequest(status)
	RecordRequestDuration("recognize", status, time.Since(start).Seconds())
	http.Error(w, "failed", http.StatusInternalServerError)
}

// handleVersion reports build information
func (sn *ScrawlNode) handleVersion(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = encoder.NewStreamEncoder(w).Encode(VersionResponse{
		Version:   Version,
		GitCommit: GitCommit,
		BuildTime: BuildTime,
	})
}
