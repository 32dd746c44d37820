package transcript

import (
	"bufio"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
	"github.com/tiktoken-go/tokenizer"

	"github.com/thebtf/shiftbook/pkg/models"
)

// summaryRuneBudget bounds the excerpt kept from a tool result output.
const summaryRuneBudget = 400

// rawLine is the wire shape of one transcript line. Content is either a
// plain string or an array of content blocks.
type rawLine struct {
	Type      string `json:"type"`
	Timestamp string `json:"timestamp"`
	Message   struct {
		Role    string `json:"role"`
		Content any    `json:"content"`
	} `json:"message"`
}

// contentBlock is one element of an array-form message content.
type contentBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text"`
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Input     map[string]any  `json:"input"`
	ToolUseID string          `json:"tool_use_id"`
	Content   json.RawMessage `json:"content"`
}

// Parser converts a raw activity log into typed records. It is lenient:
// undecodable lines are counted and skipped, never fatal, because the
// raw log has already been archived verbatim by the time parsing runs.
type Parser struct {
	codec tokenizer.Codec
}

// NewParser creates a Parser. Token accounting degrades to zero counts
// if the tokenizer vocabulary cannot be loaded.
func NewParser() *Parser {
	codec, err := tokenizer.Get(tokenizer.Cl100kBase)
	if err != nil {
		log.Warn().Err(err).Msg("Tokenizer unavailable, token counts will be zero")
		codec = nil
	}
	return &Parser{codec: codec}
}

// ParseFile parses the transcript at path.
func (p *Parser) ParseFile(path string) (*models.Transcript, error) {
	file, err := os.Open(path) // #nosec G304 -- path was validated by the resolver
	if err != nil {
		return nil, fmt.Errorf("open transcript: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	// Large tool outputs produce long lines
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 1024*1024)

	result := &models.Transcript{}
	seenResults := make(map[string]bool)

	for scanner.Scan() {
		line := scanner.Text()
		records, ok := p.parseLine(line, seenResults)
		if !ok {
			result.SkippedLines++
			continue
		}
		for _, rec := range records {
			result.TotalTokens += rec.Tokens
			result.Records = append(result.Records, rec)
		}
	}
	if err := scanner.Err(); err != nil {
		return result, fmt.Errorf("scan transcript: %w", err)
	}
	return result, nil
}

// parseLine decodes one raw line into zero or more records. A line with
// array content can carry text, tool_use, and tool_result blocks at once.
func (p *Parser) parseLine(line string, seenResults map[string]bool) ([]models.TranscriptRecord, bool) {
	if line == "" {
		return nil, true
	}

	var raw rawLine
	if err := json.Unmarshal([]byte(line), &raw); err != nil {
		return nil, false
	}
	if raw.Type != "message" {
		// Meta records (session headers, progress markers) carry no content
		return nil, true
	}

	ts := parseTimestamp(raw.Timestamp)

	switch content := raw.Message.Content.(type) {
	case string:
		rec, ok := p.exchangeRecord(raw.Message.Role, content, ts, line)
		if !ok {
			return nil, true
		}
		return []models.TranscriptRecord{rec}, true

	case []any:
		var records []models.TranscriptRecord
		for _, item := range content {
			blockJSON, err := json.Marshal(item)
			if err != nil {
				continue
			}
			var block contentBlock
			if err := json.Unmarshal(blockJSON, &block); err != nil {
				continue
			}

			switch block.Type {
			case "text":
				if rec, ok := p.exchangeRecord(raw.Message.Role, block.Text, ts, line); ok {
					records = append(records, rec)
				}
			case "tool_use":
				params := RedactParams(flattenParams(block.Input))
				records = append(records, models.TranscriptRecord{
					Kind:      models.RecordKindToolCall,
					Timestamp: ts,
					ToolCall: &models.ToolCall{
						Name:   block.Name,
						CallID: block.ID,
						Params: params,
					},
					Raw:    line,
					Tokens: p.countTokens(callText(block.Name, params)),
				})
			case "tool_result":
				// At most one result per invocation; later duplicates are dropped
				if block.ToolUseID != "" && seenResults[block.ToolUseID] {
					continue
				}
				seenResults[block.ToolUseID] = true
				output := decodeResultContent(block.Content)
				records = append(records, models.TranscriptRecord{
					Kind:      models.RecordKindToolResult,
					Timestamp: ts,
					ToolResult: &models.ToolResult{
						CallID:  block.ToolUseID,
						Output:  output,
						Summary: boundSummary(output),
					},
					Raw:    line,
					Tokens: p.countTokens(output),
				})
			}
		}
		return records, true
	}

	return nil, true
}

func (p *Parser) exchangeRecord(role, text string, ts time.Time, raw string) (models.TranscriptRecord, bool) {
	cleaned := StripPrivate(text)
	if cleaned == "" {
		return models.TranscriptRecord{}, false
	}
	return models.TranscriptRecord{
		Kind:      models.RecordKindExchange,
		Timestamp: ts,
		Exchange: &models.Exchange{
			Role:    role,
			Content: cleaned,
		},
		Raw:    raw,
		Tokens: p.countTokens(cleaned),
	}, true
}

// callText renders an invocation as text for token accounting, params
// sorted by key so the count is stable across runs.
func callText(name string, params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(name)
	for _, k := range keys {
		b.WriteString(" ")
		b.WriteString(k)
		b.WriteString("=")
		b.WriteString(params[k])
	}
	return b.String()
}

func (p *Parser) countTokens(text string) int {
	if p.codec == nil {
		return 0
	}
	count, err := p.codec.Count(text)
	if err != nil {
		return 0
	}
	return count
}

func parseTimestamp(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	ts, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}
	}
	return ts
}

// flattenParams converts tool input to a flat string map. Nested values
// are kept as their compact JSON encoding.
func flattenParams(input map[string]any) map[string]string {
	if len(input) == 0 {
		return nil
	}
	out := make(map[string]string, len(input))
	for key, value := range input {
		switch v := value.(type) {
		case string:
			out[key] = v
		default:
			encoded, err := json.Marshal(v)
			if err != nil {
				out[key] = fmt.Sprintf("%v", v)
				continue
			}
			out[key] = string(encoded)
		}
	}
	return out
}

// decodeResultContent handles tool result content that may be a string,
// an array of text blocks, or arbitrary JSON.
func decodeResultContent(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		return asString
	}
	var blocks []contentBlock
	if err := json.Unmarshal(raw, &blocks); err == nil {
		var combined string
		for _, block := range blocks {
			if block.Type == "text" && block.Text != "" {
				if combined != "" {
					combined += "\n"
				}
				combined += block.Text
			}
		}
		return combined
	}
	return string(raw)
}

func boundSummary(output string) string {
	runes := []rune(output)
	if len(runes) <= summaryRuneBudget {
		return output
	}
	return string(runes[:summaryRuneBudget]) + " [truncated]"
}
