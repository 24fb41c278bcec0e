// Copyright (c) fleetbridge Authors.
// Use of this source code is governed by a MIT license that can be
// found in the LICENSE file.

/*
Package llm provides the chat-completion provider abstraction used by the
agent loop to turn a WhatsApp message into a tool call or a reply.

# Overview

The llm package defines the Provider interface and the request/response
types shared by every concrete client. A single OpenAI-backed
implementation lives in llm/openaiclient; llm/embedding provides the
parallel interface for text embeddings, and llm/tokenizer counts tokens
for context-window budgeting.

# Provider Interface

	type Provider interface {
	    Completion(ctx context.Context, req *ChatRequest) (*ChatResponse, error)
	    Stream(ctx context.Context, req *ChatRequest) (<-chan StreamChunk, error)
	    HealthCheck(ctx context.Context) (*HealthStatus, error)
	    Name() string
	    SupportsNativeFunctionCalling() bool
	    ListModels(ctx context.Context) ([]Model, error)
	}

# Tool Calling

The agent loop relies on native function calling to let the model pick
which OpenAPI-backed tool to invoke:

	resp, err := provider.Completion(ctx, &llm.ChatRequest{
	    Model: "gpt-4o-mini",
	    Messages: messages,
	    Tools: []llm.ToolSchema{
	        {Name: "get_shipment_status", Description: "...", Parameters: paramsSchema},
	    },
	    ToolChoice: "auto",
	})

# Error Handling

The package reuses the shared types.Error / types.ErrorCode vocabulary so
callers can branch on IsRetryable without caring which provider raised
the error.
*/
package llm
