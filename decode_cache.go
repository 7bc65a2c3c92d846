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
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/jellydator/ttlcache/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// CachedRecognizer provides in-memory caching for decode results keyed by
// image content, with singleflight collapse of concurrent identical uploads.
type CachedRecognizer struct {
	inner           Recognizer
	memCache        *ttlcache.Cache[uint64, RecognitionResult]
	sfGroup         *singleflight.Group
	singleflightHit *atomic.Uint64
	logger          *zap.Logger
	cancel          context.CancelFunc
}

// NewCachedRecognizer wraps a recognizer with a 2-minute decode cache.
func NewCachedRecognizer(inner Recognizer, logger *zap.Logger) *CachedRecognizer {
	cache := ttlcache.New(
		ttlcache.WithTTL[uint64, RecognitionResult](2 * time.Minute),
	)
	go cache.Start()

	ctx, cancel := context.WithCancel(context.Background())
	singleflightHit := &atomic.Uint64{}
	singleflightHit.Store(0)

	cr := &CachedRecognizer{
		inner:           inner,
		memCache:        cache,
		sfGroup:         &singleflight.Group{},
		singleflightHit: singleflightHit,
		logger:          logger,
		cancel:          cancel,
	}

	go cr.logCacheStats(ctx)

	return cr
}

// Recognize answers from cache when the exact image bytes were decoded
// recently, otherwise runs one decode per distinct image.
func (cr *CachedRecognizer) Recognize(ctx context.Context, image []byte) (RecognitionResult, error) {
	cacheKey := xxhash.Sum64(image)

	if item := cr.memCache.Get(cacheKey); item != nil {
		RecordCacheHit("decode")
		cr.logger.Debug("Decode cache hit (memory)",
			zap.Uint64("cache_key", cacheKey),
			zap.String("latex", item.Value().Latex))
		return item.Value(), nil
	}

	RecordCacheMiss("decode")
	cr.logger.Debug("Decode cache miss, running beam search",
		zap.Uint64("cache_key", cacheKey),
		zap.Int("image_bytes", len(image)))

	v, err, shared := cr.sfGroup.Do(fmt.Sprintf("%d", cacheKey), func() (any, error) {
		// Double-check cache (another goroutine might have populated it)
		if item := cr.memCache.Get(cacheKey); item != nil {
			cr.logger.Debug("Decode found in cache during singleflight")
			return item.Value(), nil
		}

		result, err := cr.inner.Recognize(ctx, image)
		if err != nil {
			return RecognitionResult{}, err
		}

		cr.memCache.Set(cacheKey, result, ttlcache.DefaultTTL)

		cr.logger.Info("Decode completed and cached",
			zap.Uint64("cache_key", cacheKey),
			zap.String("latex", result.Latex),
			zap.Float64("probability", result.Probability))

		return result, nil
	})

	if shared {
		cr.singleflightHit.Add(1)
		cr.logger.Debug("Singleflight deduplication hit")
	}

	if err != nil {
		return RecognitionResult{}, err
	}

	return v.(RecognitionResult), nil
}

// logCacheStats periodically logs cache statistics
func (cr *CachedRecognizer) logCacheStats(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			metrics := cr.memCache.Metrics()
			hitRate := float64(0)
			if metrics.Hits+metrics.Misses > 0 {
				hitRate = float64(metrics.Hits) / float64(metrics.Hits+metrics.Misses) * 100
			}

			if cr.memCache.Len() == 0 {
				continue
			}

			cr.logger.Info("Decode cache stats",
				zap.Int("size", cr.memCache.Len()),
				zap.Uint64("singleflight_hits", cr.singleflightHit.Load()),
				zap.Uint64("cache_hits", metrics.Hits),
				zap.Uint64("cache_misses", metrics.Misses),
				zap.String("hit_rate_percent", fmt.Sprintf("%.2f", hitRate)))

		case <-ctx.Done():
			cr.logger.Info("Stopping decode cache stats logger")
			return
		}
	}
}

// Close releases cache resources. The wrapped recognizer's checkpoint is
// owned by the caller and closed separately.
func (cr *CachedRecognizer) Close() error {
	cr.cancel()
	cr.memCache.Stop()
	return nil
}
