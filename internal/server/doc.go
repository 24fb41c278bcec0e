/*
Package server provides HTTP/HTTPS server lifecycle management: non-
blocking start, graceful shutdown, and OS signal handling.

# Overview

Manager wraps net/http.Server, unifying listen, serve, shutdown, and
error propagation behind one small API. It supports both plain HTTP and
TLS, with SIGINT/SIGTERM handling built in for production shutdown.

# Core types

  - Manager — owns the http.Server and net.Listener plus an async error
    channel, exposing Start/StartTLS/Shutdown/WaitForShutdown.
  - Config — listen address, read/write/idle timeouts, max header size,
    and graceful shutdown timeout.

# Capabilities

  - Non-blocking start: Start/StartTLS run the server in a background
    goroutine so the caller's main loop is never blocked.
  - Graceful shutdown: Shutdown drains in-flight requests within the
    configured timeout before releasing the listener.
  - Signal handling: WaitForShutdown blocks on SIGINT/SIGTERM and
    triggers Shutdown automatically.
  - Error propagation: Errors() exposes an async channel for monitoring
    unexpected server failures.
  - Status queries: IsRunning/Addr report current lifecycle state.
*/
package server
