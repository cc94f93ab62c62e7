// Copyright 2025 Tom Barlow
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

/*
Package tracing provides distributed tracing and observability for the
workflow control-plane broker and its control façade.

It wraps the OpenTelemetry SDK for span creation, exposes Prometheus metrics
through an OTel Prometheus exporter, and propagates correlation IDs across
the broker/façade HTTP boundary.

# Overview

The tracing package supports:

  - Distributed tracing via OpenTelemetry
  - Prometheus metrics export
  - Correlation ID propagation across the broker and façade
  - Configurable trace sampling

# Quick Start

Create an OTel provider:

	provider, err := tracing.NewOTelProvider("tradingbroker-broker", version)

Get a tracer and create spans:

	tracer := provider.Tracer("broker")

	ctx, span := tracer.Start(ctx, "execute-workflow",
	    observability.WithAttributes(map[string]any{
	        "workflow.id": workflowID,
	    }),
	)
	defer span.End()

# Correlation IDs

Correlation IDs link the façade's proxied requests to the broker request
they triggered:

	// In HTTP middleware
	correlationID := tracing.FromContext(ctx)

	// Add to outbound requests
	req.Header.Set("X-Correlation-ID", string(correlationID))

	// Middleware extracts and injects
	handler = tracing.CorrelationMiddleware(handler)

# Metrics Collection

Prometheus metrics are collected through the provider's MetricsCollector:

	collector := provider.MetricsCollector()
	collector.RecordControlAction(ctx, "execute", "success", duration)
	collector.RecordFusionMerge(ctx, duration, len(traces))
	collector.SetOperationCounter(svc) // an api.Service implements OperationCount

Metrics exposed at /metrics:

  - tradingbroker_control_actions_total{action,status}
  - tradingbroker_control_action_duration_seconds{action,status}
  - tradingbroker_fusion_merge_duration_seconds
  - tradingbroker_fusion_trace_count
  - tradingbroker_operations_in_flight

# Key Components

  - OTelProvider: OpenTelemetry SDK wrapper, also exposing /metrics
  - MetricsCollector: Prometheus metrics recording
  - CorrelationID: Request correlation across the broker/façade boundary
  - Sampler: Configurable trace sampling
*/
package tracing
