// Copyright (c) fleetbridge Authors.
// Use of this source code is governed by a MIT license that can be
// found in the LICENSE file.

/*
Package cache provides a Redis-backed string/JSON cache with connection
pooling and health checking, used by the gateway
to memoize successful read-only tool responses.

# Core Types

  - Manager: cache manager, holds the Redis client and pool config,
    exposing Get/Set/Delete/Exists/Expire plus GetJSON/SetJSON
    convenience wrappers.
  - Config: connection address, password, pool size, default TTL, and
    health-check interval.
  - Stats: fields for hit/miss counters, key count, and memory/connection
    usage; GetStats does not fill them in and returns them all as zero.

# Capabilities

  - String and JSON key/value storage.
  - Connection pool sizing via PoolSize and MinIdleConns.
  - Background health checking: periodic Ping, logged on failure.
  - Graceful Close of the underlying Redis connection.
  - ErrCacheMiss sentinel and IsCacheMiss for cache-miss handling.
*/
package cache
