package kvstore

import (
	"context"

	"github.com/redis/go-redis/v9"
)

// releaseLockScript deletes KEYS[1] only if its current value equals
// ARGV[1], so a lock holder can never release a lock it no longer owns
// (e.g. after its TTL expired and another worker acquired it).
var releaseLockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end
`)

// ReleaseIfOwner runs the compare-and-delete release script, returning
// true if the key was deleted (this caller was the owner).
func (s *Store) ReleaseIfOwner(ctx context.Context, key, token string) (bool, error) {
	res, err := releaseLockScript.Run(ctx, s.rdb, []string{key}, token).Int64()
	if err != nil {
		return false, err
	}
	return res == 1, nil
}
