package reply

import "context"

type mockReplier struct {
	result Result
	err    error
}

// NewMockReplier returns a replier that always yields the given result or
// error.
func NewMockReplier(result Result, err error) Replier {
	return &mockReplier{result: result, err: err}
}

func (m *mockReplier) Reply(_ context.Context, _ string) (Result, error) {
	if m.err != nil {
		return Result{}, m.err
	}
	return m.result, nil
}
