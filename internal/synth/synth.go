// Package synth defines the boundary to the external synthesis
// collaborator that compresses and merges content semantically. The
// collaborator is untrusted: results are tagged, bounded in time, and
// its compaction claims are verified by the caller before being honored.
package synth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thebtf/shiftbook/internal/faults"
	"github.com/thebtf/shiftbook/pkg/models"
)

// Signals carries repository state the delegate may weigh during a merge.
type Signals struct {
	Branch         string   `json:"branch,omitempty"`
	TestsPassing   *bool    `json:"tests_passing,omitempty"`
	PriorConflicts []string `json:"prior_conflicts,omitempty"`
}

// Delegate performs a semantic merge of current and incoming content.
// Implementations live outside this module (a subprocess bridge to an
// external language model); this package only fixes the contract.
type Delegate interface {
	Merge(ctx context.Context, current, incoming string, signals Signals) (models.SynthesisResult, error)
}

// ErrUnavailable is returned by CallWithTimeout when no delegate is
// configured.
var ErrUnavailable = errors.New("synthesis delegate unavailable")

// CallWithTimeout invokes the delegate bounded by timeout. A timeout,
// a transport error, or a declared failure all come back as transient
// faults so callers fall through to their non-delegated path; a slow
// delegate must never hang clock-out.
func CallWithTimeout(ctx context.Context, delegate Delegate, timeout time.Duration, current, incoming string, signals Signals) (models.SynthesisSuccess, error) {
	if delegate == nil {
		return models.SynthesisSuccess{}, faults.Wrap(ErrUnavailable, faults.KindTransient)
	}

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		result models.SynthesisResult
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		result, err := delegate.Merge(callCtx, current, incoming, signals)
		done <- outcome{result: result, err: err}
	}()

	select {
	case <-callCtx.Done():
		log.Warn().Dur("timeout", timeout).Msg("Synthesis delegate timed out")
		return models.SynthesisSuccess{}, faults.Wrap(fmt.Errorf("delegate: %w", callCtx.Err()), faults.KindTransient)
	case out := <-done:
		if out.err != nil {
			log.Warn().Err(out.err).Msg("Synthesis delegate failed")
			return models.SynthesisSuccess{}, faults.Wrap(fmt.Errorf("delegate: %w", out.err), faults.KindTransient)
		}
		if out.result.Failure != nil {
			log.Warn().Str("reason", out.result.Failure.Reason).Msg("Synthesis delegate declared failure")
			return models.SynthesisSuccess{}, faults.Wrap(fmt.Errorf("delegate: %s", out.result.Failure.Reason), faults.KindTransient)
		}
		if out.result.Success == nil {
			return models.SynthesisSuccess{}, faults.Wrap(errors.New("delegate returned neither success nor failure"), faults.KindTransient)
		}
		return *out.result.Success, nil
	}
}
