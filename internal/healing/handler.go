package healing

import (
	"context"
	"fmt"
	"strconv"

	"github.com/navihq/recovery-core/internal/domain"
)

// HandleCIFailure is the autonomous handler registered for the
// ci_failure trigger. It opens a fresh session correlated to the PR (or
// the event itself when no PR is known) and runs one recovery attempt.
// Follow-up attempts belong to the caller that owns the retry cycle.
func (e *Engine) HandleCIFailure(ctx context.Context, pe domain.ProcessedEvent) error {
	correlation := pe.Context["pr_number"]
	if correlation == "" {
		correlation = pe.Event.ExternalID
	}

	payload := domain.CIPayload{
		Logs:       pe.Event.Content,
		Status:     tagString(pe.Event, "status"),
		Conclusion: tagString(pe.Event, "conclusion"),
	}

	prior := 0
	if n, err := strconv.Atoi(tagString(pe.Event, "attempt_count")); err == nil && n > 0 {
		prior = n
	}

	sess := e.StartSession(correlation)
	if _, err := e.AttemptRecovery(ctx, sess.ID, payload, prior); err != nil {
		return domain.WrapCoreError(domain.ErrHealingInternal.Code,
			domain.ErrHealingInternal.Message, err)
	}
	return nil
}

func tagString(ev domain.Event, key string) string {
	v, ok := ev.Tags[key]
	if !ok {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}
