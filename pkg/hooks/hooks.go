// Package hooks provides the shared harness for shiftbook hook binaries.
package hooks

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"

	json "github.com/goccy/go-json"
)

// InternalEnv marks hook invocations made by shiftbook itself. Such
// calls are acknowledged without doing any work, so internal agent runs
// never recurse into the lifecycle.
const InternalEnv = "SHIFTBOOK_INTERNAL"

// Exit codes understood by the agent runtime.
const (
	ExitSuccess         = 0
	ExitFailure         = 1
	ExitUserMessageOnly = 3 // stderr is shown to the user
)

// Response is the minimal hook response sent back on stdout.
type Response struct {
	Continue bool `json:"continue"`
}

// ProjectID returns a stable human-readable identity for a working
// directory. Format: "dirname_abc123" (base name plus truncated hash).
func ProjectID(cwd string) string {
	absPath, err := filepath.Abs(cwd)
	if err != nil {
		absPath = cwd
	}

	dirName := filepath.Base(absPath)
	hash := sha256.Sum256([]byte(absPath))
	shortHash := hex.EncodeToString(hash[:3]) // 6 chars

	return fmt.Sprintf("%s_%s", dirName, shortHash)
}

// WriteResponse writes a plain continue/stop response to stdout.
func WriteResponse(success bool) {
	data, _ := json.Marshal(Response{Continue: success})
	fmt.Println(string(data))
}

// WriteError reports a hook failure on stderr and emits a stop response.
func WriteError(hookName string, err error) {
	fmt.Fprintf(os.Stderr, "[%s] Error: %v\n", hookName, err)
	WriteResponse(false)
}

// BaseInput contains the fields every hook event carries.
type BaseInput struct {
	SessionID      string `json:"session_id"`
	CWD            string `json:"cwd"`
	TranscriptPath string `json:"transcript_path"`
	HookEventName  string `json:"hook_event_name"`
}

// Context carries the common per-invocation state into a handler.
type Context struct {
	HookName  string
	Project   string
	SessionID string
	CWD       string
	RawInput  []byte
}

// Handler implements the hook-specific logic. A non-empty return value
// is injected into the agent as additional context.
type Handler[T any] func(ctx *Context, input *T) (additionalContext string, err error)

// RunHook executes a hook with the common boilerplate: internal-call
// skip, stdin read, JSON decode, project identity, response encoding.
func RunHook[T any](hookName string, handler Handler[T]) {
	if os.Getenv(InternalEnv) == "1" {
		WriteResponse(true)
		return
	}

	inputData, err := io.ReadAll(os.Stdin)
	if err != nil {
		WriteError(hookName, err)
		os.Exit(ExitFailure)
	}

	var input T
	if err := json.Unmarshal(inputData, &input); err != nil {
		WriteError(hookName, err)
		os.Exit(ExitFailure)
	}

	var base BaseInput
	_ = json.Unmarshal(inputData, &base)

	ctx := &Context{
		HookName:  hookName,
		Project:   ProjectID(base.CWD),
		SessionID: base.SessionID,
		CWD:       base.CWD,
		RawInput:  inputData,
	}

	additionalContext, err := handler(ctx, &input)
	if err != nil {
		WriteError(hookName, err)
		os.Exit(ExitFailure)
	}

	if additionalContext != "" {
		response := map[string]interface{}{
			"continue": true,
			"hookSpecificOutput": map[string]interface{}{
				"hookEventName":     hookName,
				"additionalContext": additionalContext,
			},
		}
		_ = json.NewEncoder(os.Stdout).Encode(response)
		os.Exit(ExitSuccess)
	}

	WriteResponse(true)
}
