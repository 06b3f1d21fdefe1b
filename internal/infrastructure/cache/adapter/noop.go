package adapter

import (
	"context"
	"time"

	"github.com/Jefrey13/customerSupport/internal/infrastructure/cache/port"
)

// NoopCache misses on every read. It stands in when Redis is not configured.
type NoopCache struct{}

var _ port.Cache = NoopCache{}

func (NoopCache) Get(context.Context, string) (string, error) { return "", port.ErrMiss }

func (NoopCache) Set(context.Context, string, string, time.Duration) error { return nil }

func (NoopCache) Del(_ context.Context, _ ...string) (int64, error) { return 0, nil }

func (NoopCache) Ping(context.Context) error { return nil }

func (NoopCache) Close() error { return nil }
