package backend

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/patrickmn/go-cache"
)

// CachedClient serves repeat Result reads from memory. A result is only ever
// produced for a completed task and never changes afterwards.
type CachedClient struct {
	API
	results *cache.Cache
}

// Ensure CachedClient implements API.
var _ API = (*CachedClient)(nil)

// NewCachedClient wraps api with a result cache whose entries live for ttl.
func NewCachedClient(api API, ttl time.Duration) *CachedClient {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &CachedClient{
		API:     api,
		results: cache.New(ttl, ttl/2),
	}
}

// Result returns the cached report for taskID, fetching it on a miss.
func (c *CachedClient) Result(ctx context.Context, bearer, taskID string) (*Result, error) {
	key := resultKey(bearer, taskID)
	if x, found := c.results.Get(key); found {
		r := *x.(*Result)
		return &r, nil
	}

	result, err := c.API.Result(ctx, bearer, taskID)
	if err != nil {
		return nil, err
	}
	stored := *result
	c.results.Set(key, &stored, cache.DefaultExpiration)
	return result, nil
}

// resultKey scopes entries to the caller's token so one user cannot read
// another user's cached report by guessing a task id.
func resultKey(bearer, taskID string) string {
	sum := sha256.Sum256([]byte(bearer))
	return hex.EncodeToString(sum[:8]) + ":" + taskID
}
