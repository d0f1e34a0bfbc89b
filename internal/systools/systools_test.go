package systools

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	values map[string]uint32
	denied map[string]bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{values: make(map[string]uint32), denied: make(map[string]bool)}
}

func (s *fakeStore) SetDWORD(key, value string, data uint32) error {
	if s.denied[value] {
		return errors.New("access denied")
	}
	s.values[key+`\`+value] = data
	return nil
}

func (s *fakeStore) Delete(key, value string) error {
	if s.denied[value] {
		return errors.New("access denied")
	}
	delete(s.values, key+`\`+value)
	return nil
}

func TestDisableThenEnable(t *testing.T) {
	store := newFakeStore()

	require.NoError(t, disable(store))
	assert.Len(t, store.values, len(Policies))
	assert.Equal(t, uint32(1), store.values[`Software\Policies\Microsoft\Windows\System\DisableCMD`])
	assert.Equal(t, uint32(0), store.values[`Software\Policies\Microsoft\Windows\PowerShell\ExecutionPolicy`])

	require.NoError(t, enable(store))
	assert.Empty(t, store.values)

	require.NoError(t, enable(store), "enabling twice is fine")
}

func TestPartialSuccessCounts(t *testing.T) {
	store := newFakeStore()
	store.denied["DisableCMD"] = true

	require.NoError(t, disable(store))
	assert.Len(t, store.values, len(Policies)-1)
}

func TestAllPoliciesFail(t *testing.T) {
	store := newFakeStore()
	for _, p := range Policies {
		store.denied[p.Value] = true
	}

	assert.ErrorIs(t, disable(store), ErrNoneApplied)
	assert.ErrorIs(t, enable(store), ErrNoneApplied)
}
