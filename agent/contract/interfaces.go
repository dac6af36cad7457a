package contract

import "context"

// Completer is the generative dependency used for the summary narrative.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}
