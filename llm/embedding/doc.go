// Copyright (c) fleetbridge Authors.
// Use of this source code is governed by a MIT license that can be
// found in the LICENSE file.

/*
Package embedding provides the text embedding interface used for
semantic tool retrieval: matching an incoming message against the
descriptions of the OpenAPI operations exposed as LLM tools.

# Core Interface

  - Provider: Embed, EmbedQuery, EmbedDocuments.
  - EmbeddingRequest / EmbeddingResponse: standardized request/response.
  - InputType: query, document, classification, clustering.
  - BaseProvider: shared HTTP request handling and error mapping.

# Usage

	cfg := embedding.DefaultOpenAIConfig()
	cfg.APIKey = apiKey
	provider := embedding.NewOpenAIProvider(cfg)

	vec, err := provider.EmbedQuery(ctx, "where is my shipment")
	vecs, err := provider.EmbedDocuments(ctx, toolDescriptions)
*/
package embedding
