// Copyright (c) fleetbridge Authors.
// Use of this source code is governed by a MIT license that can be
// found in the LICENSE file.

/*
Package database provides GORM-based connection pool management with
health checking, statistics collection, and transaction retry.

# Core Types

  - PoolManager: connection pool manager, holds the GORM DB instance and
    the underlying sql.DB, exposing DB(), Ping(), Stats(), Close().
  - PoolConfig: pool sizing (max idle/open connections, connection
    lifetime, idle timeout) and health-check interval.
  - PoolStats: a friendlier view of connection pool statistics.
  - TransactionFunc: the transaction callback type.

# Capabilities

  - Pool tuning via MaxIdleConns/MaxOpenConns/ConnMaxLifetime.
  - Background health checking: periodic PingContext, logging connection
    counts when the ping succeeds and the error when it fails.
  - Transaction management: WithTransaction for a single attempt,
    WithTransactionRetry for exponential backoff on deadlock/serialization
    failures.
*/
package database
