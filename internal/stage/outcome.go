package stage

// Kind classifies how a stage finished.
type Kind string

const (
	KindCompleted Kind = "completed"
	// KindDegraded means a fallback produced a valid but lower quality result.
	KindDegraded Kind = "degraded"
	// KindSkipped means the stage had nothing to do and left the record as is.
	KindSkipped Kind = "skipped"
)

// Outcome is the non-error result of Execute.
type Outcome struct {
	Kind   Kind
	Reason string
}

// Completed reports a normal run.
func Completed() Outcome { return Outcome{Kind: KindCompleted} }

// Degraded reports a fallback run with its reason.
func Degraded(reason string) Outcome { return Outcome{Kind: KindDegraded, Reason: reason} }

// Skipped reports a no-op run with its reason.
func Skipped(reason string) Outcome { return Outcome{Kind: KindSkipped, Reason: reason} }

// Recorded reports whether the stage belongs in processing_steps.
func (o Outcome) Recorded() bool {
	return o.Kind == KindCompleted || o.Kind == KindDegraded
}
