package registry

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// DefaultReloadInterval matches the prototype's polling cadence.
const DefaultReloadInterval = 300 * time.Second

// StartHotReload polls source every interval for a changed OpenAPI document
// and swaps the snapshot in when it finds one. It runs until ctx is
// canceled; fetch or parse failures are logged and the loop continues.
func (r *Registry) StartHotReload(ctx context.Context, source string, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultReloadInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	r.logger.Info("starting openapi hot reload", zap.String("source", source), zap.Duration("interval", interval))

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("stopping openapi hot reload")
			return
		case <-ticker.C:
			if err := r.checkAndReload(ctx, source); err != nil {
				r.logger.Error("openapi hot reload check failed", zap.Error(err))
			}
		}
	}
}

func (r *Registry) checkAndReload(ctx context.Context, source string) error {
	etag, lastModified, err := r.generator.Head(ctx, source)
	if err != nil {
		r.logger.Warn("openapi HEAD failed, falling back to GET", zap.Error(err))
		return r.reloadViaGet(ctx, source)
	}

	if etag != "" && etag == r.lastETag {
		return nil
	}
	if etag == "" && lastModified != "" && lastModified == r.lastModified {
		return nil
	}
	if etag == "" && lastModified == "" {
		// Neither freshness header is present; only a body hash comparison
		// (via GET) can tell us whether anything changed.
		return r.reloadViaGet(ctx, source)
	}

	r.logger.Info("openapi document changed, reloading", zap.String("etag", etag))
	return r.Load(ctx, source)
}

func (r *Registry) reloadViaGet(ctx context.Context, source string) error {
	data, etag, lastModified, err := r.generator.FetchRemote(ctx, source)
	if err != nil {
		return err
	}

	hash := hashBytes(data)
	if hash == r.lastHash {
		return nil
	}

	spec, err := r.generator.ParseSpec(data)
	if err != nil {
		return err
	}
	if err := r.buildFromSpec(ctx, spec); err != nil {
		return err
	}

	r.source = source
	r.lastETag = etag
	r.lastModified = lastModified
	r.lastHash = hash
	r.logger.Info("openapi document changed, reloaded via GET fallback")
	return nil
}
