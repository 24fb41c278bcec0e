package convo

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/mobilityone/fleetbridge/llm"
	"github.com/mobilityone/fleetbridge/llm/tokenizer"
	"github.com/mobilityone/fleetbridge/types"
)

// enforceBudget trims sender's history back under MaxTokens, summarizing
// the dropped prefix through the LLM when possible. It loops because a
// single split-and-summarize pass is not guaranteed to land under budget
// when individual messages are unusually large; it always converges since
// each pass strictly shrinks the list.
func (s *Store) enforceBudget(ctx context.Context, sender string) error {
	for i := 0; i < maxEnforceIterations; i++ {
		msgs, err := s.Get(ctx, sender)
		if err != nil {
			return err
		}
		if len(msgs) == 0 {
			return nil
		}

		tok := tokenizer.GetTokenizerOrEstimator(s.model)
		total, err := countTokens(tok, msgs)
		if err != nil {
			return fmt.Errorf("count history tokens for %s: %w", sender, err)
		}
		if total <= MaxTokens {
			return nil
		}

		split := splitPoint(tok, msgs, TargetTokens)
		key := contextKey(sender)

		if split < 2 {
			if err := s.kv.Client().LPop(ctx, key).Err(); err != nil {
				return fmt.Errorf("drop oldest history entry for %s: %w", sender, err)
			}
			continue
		}

		summary, err := s.summarize(ctx, msgs[:split])
		if err != nil {
			s.logger.Warn("history summarization failed, trimming without summary",
				zap.String("sender", sender), zap.Error(err))
			if err := s.kv.Client().LTrim(ctx, key, int64(split), -1).Err(); err != nil {
				return fmt.Errorf("trim history for %s: %w", sender, err)
			}
			continue
		}

		summaryMsg := types.NewSystemMessage(SummaryPrefix + summary)
		data, err := json.Marshal(summaryMsg)
		if err != nil {
			return fmt.Errorf("marshal summary message: %w", err)
		}

		pipe := s.kv.Client().TxPipeline()
		pipe.LTrim(ctx, key, int64(split), -1)
		pipe.LPush(ctx, key, data)
		if _, err := pipe.Exec(ctx); err != nil {
			return fmt.Errorf("trim and summarize history for %s: %w", sender, err)
		}
	}
	return nil
}

// splitPoint walks the history backwards accumulating token counts and
// returns the index of the oldest message that still fits within target.
// Messages before the returned index are dropped or summarized.
func splitPoint(tok tokenizer.Tokenizer, msgs []types.Message, target int) int {
	sum := 0
	split := 0
	for i := len(msgs) - 1; i >= 0; i-- {
		t := messageTokens(tok, msgs[i])
		if sum+t > target {
			split = i + 1
			return split
		}
		sum += t
		split = i
	}
	return split
}

func messageTokens(tok tokenizer.Tokenizer, msg types.Message) int {
	n, err := tok.CountTokens(msg.Content)
	if err != nil {
		n = len(msg.Content) / 4
	}
	return n + 4 + toolCallTokens(tok, msg)
}

// toolCallTokens counts the tokens a message's tool-call payload would add
// to the prompt, so tool-heavy turns aren't under-counted against the
// history budget.
func toolCallTokens(tok tokenizer.Tokenizer, msg types.Message) int {
	if len(msg.ToolCalls) == 0 {
		return 0
	}
	total := 0
	for _, call := range msg.ToolCalls {
		data, err := json.Marshal(call)
		if err != nil {
			continue
		}
		n, err := tok.CountTokens(string(data))
		if err != nil {
			n = len(data) / 4
		}
		total += n
	}
	return total
}

func countTokens(tok tokenizer.Tokenizer, msgs []types.Message) (int, error) {
	converted := make([]tokenizer.Message, len(msgs))
	for i, m := range msgs {
		converted[i] = tokenizer.Message{Role: string(m.Role), Content: m.Content}
	}
	total, err := tok.CountMessages(converted)
	if err != nil {
		return 0, err
	}
	for _, m := range msgs {
		total += toolCallTokens(tok, m)
	}
	return total, nil
}

// summarize asks the configured LLM to compress the dropped prefix into a
// short summary preserving names, identifiers, plate numbers, coordinates,
// and the last known request status.
func (s *Store) summarize(ctx context.Context, dropped []types.Message) (string, error) {
	if s.summarizer == nil {
		return "", fmt.Errorf("no summarizer configured")
	}

	req := &llm.ChatRequest{
		Model: s.model,
		Messages: append([]types.Message{
			types.NewSystemMessage(
				"Summarize the following conversation excerpt in a few sentences. " +
					"Preserve names, identifiers, plate numbers, coordinates, and the last request status. " +
					"Be concise.",
			),
		}, dropped...),
		MaxTokens:   200,
		Temperature: 0,
	}

	resp, err := s.summarizer.Completion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("summarizer completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("summarizer returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}
