package journal

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/jonwraymond/kernelmcp/code"
)

// Recorder adapts a Journal to code.Recorder.
type Recorder struct {
	Journal *Journal

	// Now is the clock used for CreatedAt. Defaults to time.Now.
	Now func() time.Time
}

// Ensure Recorder implements code.Recorder.
var _ code.Recorder = (*Recorder)(nil)

// Record implements code.Recorder.
func (r *Recorder) Record(ctx context.Context, params code.ExecuteParams, result code.ExecuteResult) error {
	now := time.Now
	if r.Now != nil {
		now = r.Now
	}
	return r.Journal.Record(ctx, NewEntry(params, result, now()))
}

// NewEntry summarizes one execution as an Entry with a fresh ID.
func NewEntry(params code.ExecuteParams, result code.ExecuteResult, at time.Time) Entry {
	kind := params.Kind
	if kind == "" {
		kind = code.KindExecute
	}
	e := Entry{
		ID:             uuid.NewString(),
		KernelID:       result.KernelID,
		Kind:           kind,
		Code:           params.Code,
		Status:         result.Status,
		ExecutionCount: result.ExecutionCount,
		Stdout:         result.Stdout(),
		Stderr:         result.Stderr(),
		ImageCount:     len(result.Images),
		DurationMs:     result.DurationMs,
		CreatedAt:      at,
	}
	if result.Error != nil {
		e.ErrorName = result.Error.Name
		e.ErrorValue = result.Error.Value
	}
	return e
}
