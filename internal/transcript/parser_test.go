// Package transcript locates, parses, and redacts raw agent activity logs.
package transcript

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/suite"

	"github.com/thebtf/shiftbook/pkg/models"
)

// ParserSuite is a test suite for transcript parsing.
type ParserSuite struct {
	suite.Suite
	parser *Parser
	dir    string
}

func (s *ParserSuite) SetupSuite() {
	s.parser = NewParser()
}

func (s *ParserSuite) SetupTest() {
	s.dir = s.T().TempDir()
}

func TestParserSuite(t *testing.T) {
	suite.Run(t, new(ParserSuite))
}

func (s *ParserSuite) writeTranscript(lines ...string) string {
	path := filepath.Join(s.dir, "session.jsonl")
	s.Require().NoError(os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644))
	return path
}

func (s *ParserSuite) TestStringContent() {
	path := s.writeTranscript(
		`{"type":"message","timestamp":"2026-08-30T10:00:00Z","message":{"role":"user","content":"fix the login bug"}}`,
	)

	parsed, err := s.parser.ParseFile(path)
	s.Require().NoError(err)
	s.Require().Len(parsed.Records, 1)

	rec := parsed.Records[0]
	s.Equal(models.RecordKindExchange, rec.Kind)
	s.Equal("user", rec.Exchange.Role)
	s.Equal("fix the login bug", rec.Exchange.Content)
	s.NotEmpty(rec.Raw)
}

func (s *ParserSuite) TestArrayContentWithToolBlocks() {
	path := s.writeTranscript(
		`{"type":"message","message":{"role":"assistant","content":[{"type":"text","text":"checking"},{"type":"tool_use","id":"call-1","name":"read_file","input":{"path":"main.go","api_token":"sk-live-1234"}}]}}`,
		`{"type":"message","message":{"role":"user","content":[{"type":"tool_result","tool_use_id":"call-1","content":"package main"}]}}`,
	)

	parsed, err := s.parser.ParseFile(path)
	s.Require().NoError(err)
	s.Require().Len(parsed.Records, 3)

	call := parsed.Records[1]
	s.Equal(models.RecordKindToolCall, call.Kind)
	s.Equal("read_file", call.ToolCall.Name)
	s.Equal("main.go", call.ToolCall.Params["path"])
	s.Equal(RedactedValue, call.ToolCall.Params["api_token"])

	result := parsed.Records[2]
	s.Equal(models.RecordKindToolResult, result.Kind)
	s.Equal("call-1", result.ToolResult.CallID)
	s.Equal("package main", result.ToolResult.Output)
}

func (s *ParserSuite) TestTokenAccountingPerRecord() {
	if s.parser.codec == nil {
		s.T().Skip("tokenizer vocabulary unavailable")
	}

	path := s.writeTranscript(
		`{"type":"message","message":{"role":"user","content":"summarize the failing tests"}}`,
		`{"type":"message","message":{"role":"assistant","content":[{"type":"tool_use","id":"call-1","name":"run_tests","input":{"pattern":"./..."}}]}}`,
		`{"type":"message","message":{"role":"user","content":[{"type":"tool_result","tool_use_id":"call-1","content":"3 failures in auth package"}]}}`,
	)

	parsed, err := s.parser.ParseFile(path)
	s.Require().NoError(err)
	s.Require().Len(parsed.Records, 3)

	total := 0
	for _, rec := range parsed.Records {
		s.Positive(rec.Tokens, "record kind %s carries a token count", rec.Kind)
		total += rec.Tokens
	}
	s.Equal(total, parsed.TotalTokens)
}

func (s *ParserSuite) TestDuplicateToolResultDropped() {
	path := s.writeTranscript(
		`{"type":"message","message":{"role":"user","content":[{"type":"tool_result","tool_use_id":"call-1","content":"first"}]}}`,
		`{"type":"message","message":{"role":"user","content":[{"type":"tool_result","tool_use_id":"call-1","content":"second"}]}}`,
	)

	parsed, err := s.parser.ParseFile(path)
	s.Require().NoError(err)
	s.Require().Len(parsed.Records, 1)
	s.Equal("first", parsed.Records[0].ToolResult.Output)
}

func (s *ParserSuite) TestUndecodableLinesSkippedNotFatal() {
	path := s.writeTranscript(
		`not json at all`,
		`{"type":"message","message":{"role":"user","content":"still here"}}`,
	)

	parsed, err := s.parser.ParseFile(path)
	s.Require().NoError(err)
	s.Equal(1, parsed.SkippedLines)
	s.Len(parsed.Records, 1)
}

func (s *ParserSuite) TestPrivateSpansStripped() {
	path := s.writeTranscript(
		`{"type":"message","message":{"role":"user","content":"keep this <private>not this</private> too"}}`,
		`{"type":"message","message":{"role":"user","content":"<private>entirely private</private>"}}`,
	)

	parsed, err := s.parser.ParseFile(path)
	s.Require().NoError(err)
	s.Require().Len(parsed.Records, 1)
	s.NotContains(parsed.Records[0].Exchange.Content, "not this")
}

func (s *ParserSuite) TestLongToolResultSummaryBounded() {
	long := strings.Repeat("x", summaryRuneBudget*3)
	path := s.writeTranscript(
		`{"type":"message","message":{"role":"user","content":[{"type":"tool_result","tool_use_id":"call-1","content":"` + long + `"}]}}`,
	)

	parsed, err := s.parser.ParseFile(path)
	s.Require().NoError(err)
	s.Require().Len(parsed.Records, 1)

	result := parsed.Records[0].ToolResult
	s.Equal(long, result.Output)
	s.True(strings.HasSuffix(result.Summary, "[truncated]"))
	s.Less(len(result.Summary), len(long))
}

func (s *ParserSuite) TestMetaRecordsIgnored() {
	path := s.writeTranscript(
		`{"type":"session_meta","id":"abc"}`,
		`{"type":"message","message":{"role":"user","content":"hello"}}`,
	)

	parsed, err := s.parser.ParseFile(path)
	s.Require().NoError(err)
	s.Equal(0, parsed.SkippedLines)
	s.Len(parsed.Records, 1)
}

func TestRedactParams(t *testing.T) {
	params := map[string]string{
		"path":             "main.go",
		"Authorization":    "Bearer abc",
		"github_api_token": "ghp_zzz",
		"password":         "hunter2",
	}

	out := RedactParams(params)

	if out["path"] != "main.go" {
		t.Fatalf("plain param changed: %q", out["path"])
	}
	for _, key := range []string{"Authorization", "github_api_token", "password"} {
		if out[key] != RedactedValue {
			t.Fatalf("%s not redacted: %q", key, out[key])
		}
	}
	// Original untouched
	if params["password"] != "hunter2" {
		t.Fatal("input map was mutated")
	}
}
