// Copyright (c) fleetbridge Authors.
// Licensed under the MIT License.

/*
包 metrics 提供基于 Prometheus 的 worker 指标采集能力，覆盖
消息、AI 处理、工具调用、缓存、数据库与队列等维度。

# 概述

本包通过 Collector 统一注册和记录 Prometheus 指标，使用 promauto
自动注册机制，避免手动管理 Registry。所有指标按 namespace 隔离，
支持多维度 label 分组，便于 Grafana 等工具进行可视化与告警。

# 核心类型

  - Collector：指标收集器，持有 Counter、Histogram、Gauge 等
    Prometheus 向量指标，按业务域分组管理。

# 主要能力

  - 消息指标：WhatsApp 消息总数，按 direction/status 分组。
  - AI 处理指标：单轮 agent 循环耗时 Histogram，按 outcome 分组。
  - 工具调用指标：调用总数（按 operation_id/status）、调用耗时
    （按 operation_id），以及按 target 分组的熔断器状态 Gauge。
  - 缓存指标：命中与未命中计数，按 cache_type 分组。
  - 数据库指标：打开/空闲连接数 Gauge（按 database）、查询耗时
    Histogram（按 database/operation）。
  - 队列指标：队列深度 Gauge，按 queue 分组。
*/
package metrics
