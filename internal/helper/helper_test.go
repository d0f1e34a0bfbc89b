package helper

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/fadcrypt/fadcrypt/internal/elevation"
	"github.com/fadcrypt/fadcrypt/internal/protect"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingBackend struct {
	protected   []string
	unprotected []string
	fail        error
}

func (b *recordingBackend) Name() string { return "recording" }

func (b *recordingBackend) result(paths []string) []protect.Result {
	out := make([]protect.Result, 0, len(paths))
	for _, p := range paths {
		out = append(out, protect.Result{Path: p, Err: b.fail})
	}
	return out
}

func (b *recordingBackend) Protect(_ context.Context, paths []string) []protect.Result {
	b.protected = append(b.protected, paths...)
	return b.result(paths)
}

func (b *recordingBackend) Unprotect(_ context.Context, paths []string) []protect.Result {
	b.unprotected = append(b.unprotected, paths...)
	return b.result(paths)
}

func payload(t *testing.T, name string, args ...string) string {
	t.Helper()
	p, err := elevation.Operation{Name: name, Args: args}.Encode()
	require.NoError(t, err)
	return p
}

func testRunner(b *recordingBackend) (*Runner, *[]string) {
	var calls []string
	return &Runner{
		Backend:      b,
		DisableTools: func() error { calls = append(calls, "disable"); return nil },
		EnableTools:  func() error { calls = append(calls, "enable"); return nil },
		Install:      func() error { calls = append(calls, "install"); return nil },
		Elevated:     func() bool { return true },
	}, &calls
}

func TestRefusesWhenNotElevated(t *testing.T) {
	r, _ := testRunner(&recordingBackend{})
	r.Elevated = func() bool { return false }
	assert.ErrorIs(t, r.Run(t.Context(), payload(t, elevation.OpEnableTools)), ErrNotElevated)
}

func TestProtectSkipsMissingFiles(t *testing.T) {
	dir := t.TempDir()
	existing := filepath.Join(dir, "a")
	require.NoError(t, os.WriteFile(existing, nil, 0o644))

	b := &recordingBackend{}
	r, _ := testRunner(b)

	require.NoError(t, r.Run(t.Context(), payload(t, elevation.OpProtectFiles, existing, filepath.Join(dir, "missing"))))
	assert.Equal(t, []string{existing}, b.protected)

	err := r.Run(t.Context(), payload(t, elevation.OpUnprotectFiles, filepath.Join(dir, "missing")))
	assert.Error(t, err)
	assert.Empty(t, b.unprotected)
}

func TestFileOperationFailsWhenNothingSucceeded(t *testing.T) {
	existing := filepath.Join(t.TempDir(), "a")
	require.NoError(t, os.WriteFile(existing, nil, 0o644))

	b := &recordingBackend{fail: errors.New("access denied")}
	r, _ := testRunner(b)
	assert.ErrorContains(t, r.Run(t.Context(), payload(t, elevation.OpProtectFiles, existing)), "access denied")
}

func TestDispatchesToolAndInstallOperations(t *testing.T) {
	r, calls := testRunner(&recordingBackend{})

	require.NoError(t, r.Run(t.Context(), payload(t, elevation.OpDisableTools)))
	require.NoError(t, r.Run(t.Context(), payload(t, elevation.OpEnableTools)))
	require.NoError(t, r.Run(t.Context(), payload(t, elevation.OpInstallDaemon)))
	assert.Equal(t, []string{"disable", "enable", "install"}, *calls)

	assert.ErrorIs(t, r.Run(t.Context(), payload(t, "format-disk")), ErrUnknownOperation)
	assert.Error(t, r.Run(t.Context(), "not-base64!"))
}
