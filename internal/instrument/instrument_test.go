package instrument

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func counting(name string, calls *int, err error) Target {
	return Target{Name: name, Activate: func() error {
		*calls++
		return err
	}}
}

func TestActivate_Idempotent(t *testing.T) {
	r := newRegistry()
	calls := 0

	assert.Empty(t, r.activate(counting("a", &calls, nil)))
	assert.Empty(t, r.activate(counting("a", &calls, nil), counting("a", &calls, nil)))

	assert.Equal(t, 1, calls)
	assert.True(t, r.isActive("a"))
}

func TestActivate_IndependentTargets(t *testing.T) {
	r := newRegistry()
	var okCalls, badCalls int

	panicking := Target{Name: "panics", Activate: func() error { panic("boom") }}
	failing := counting("fails", &badCalls, errors.New("driver missing"))

	errs := r.activate(panicking, failing, counting("ok", &okCalls, nil))

	require.Len(t, errs, 2)
	assert.Contains(t, errs[0].Error(), "instrument panics: panic: boom")
	assert.Contains(t, errs[1].Error(), "driver missing")
	assert.True(t, r.isActive("ok"))
	assert.False(t, r.isActive("panics"))
	assert.False(t, r.isActive("fails"))
	assert.Equal(t, 1, okCalls)
}

func TestActivate_FailedTargetRetries(t *testing.T) {
	r := newRegistry()
	calls := 0

	require.Len(t, r.activate(counting("flaky", &calls, errors.New("no"))), 1)
	require.Empty(t, r.activate(counting("flaky", &calls, nil)))

	assert.Equal(t, 2, calls)
	assert.True(t, r.isActive("flaky"))
}

func TestActivate_InvalidTarget(t *testing.T) {
	r := newRegistry()
	errs := r.activate(Target{}, Target{Name: "nil-func"})
	assert.Len(t, errs, 2)
}
