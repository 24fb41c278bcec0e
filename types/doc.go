// Copyright (c) fleetbridge Authors.
// Licensed under the MIT License.

/*
Package types provides the conversation, tool, and error types shared
across fleetbridge: Message/ToolCall/Role for chat turns, ToolSchema/
ToolResult for tool dispatch, Error/ErrorCode for the structured error
taxonomy carried end to end from an LLM provider to the chat reply, and
TokenUsage/Tokenizer for the character-count token estimator used where
no provider-specific tokenizer applies.

It depends on nothing else in this module to avoid import cycles: every
other package imports its shared types from here.
*/
package types
