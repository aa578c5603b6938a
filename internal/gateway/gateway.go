package gateway

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/quietriver/chatrelay/internal/ai"
	"github.com/quietriver/chatrelay/internal/config"
	"github.com/quietriver/chatrelay/internal/store/redisstore"
)

// Gateway resolves the current upstream model parameters at the start
// of each request. Configuration edits write a new versioned snapshot;
// there is no shared in-process cache to invalidate.
type Gateway struct {
	cfg   config.Config
	redis *redisstore.Store
}

// New accepts a nil store; parameters then always come from env config.
func New(cfg config.Config, r *redisstore.Store) *Gateway {
	return &Gateway{cfg: cfg, redis: r}
}

func (g *Gateway) defaults() ai.Params {
	return ai.Params{
		Version: 0,
		Model:   g.cfg.UpstreamModel,
		BaseURL: g.cfg.UpstreamBaseURL,
		APIKey:  g.cfg.UpstreamAPIKey,
		Proxy:   g.cfg.UpstreamProxy,
		Timeout: time.Duration(g.cfg.UpstreamTimeout) * time.Second,
	}
}

// ModelParameters fetches the latest snapshot, seeding the cache from
// env defaults when it is cold. A redis outage degrades to defaults
// rather than failing the request.
func (g *Gateway) ModelParameters(ctx context.Context) ai.Params {
	def := g.defaults()
	if g.redis == nil {
		return def
	}

	snap, err := g.redis.GetModelSnapshot(ctx)
	if err != nil {
		if err == redis.Nil {
			seed := &redisstore.ModelSnapshot{
				Version: 1,
				Model:   def.Model,
				BaseURL: def.BaseURL,
				APIKey:  def.APIKey,
				Proxy:   def.Proxy,
				Timeout: g.cfg.UpstreamTimeout,
			}
			_ = g.redis.SetModelSnapshot(ctx, seed)
		}
		return def
	}

	p := ai.Params{
		Version: snap.Version,
		Model:   snap.Model,
		BaseURL: snap.BaseURL,
		APIKey:  snap.APIKey,
		Proxy:   snap.Proxy,
		Timeout: time.Duration(snap.Timeout) * time.Second,
	}
	if p.Model == "" {
		p.Model = def.Model
	}
	if p.BaseURL == "" {
		p.BaseURL = def.BaseURL
	}
	if p.Timeout <= 0 {
		p.Timeout = def.Timeout
	}
	return p
}
