package daemon

import (
	"path/filepath"
	"testing"

	"github.com/fadcrypt/fadcrypt/internal/config"
	"github.com/fadcrypt/fadcrypt/internal/protect"
	"github.com/fadcrypt/fadcrypt/internal/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnsetMissingFileWithRealBackends(t *testing.T) {
	for _, method := range []string{protect.MethodIoctl, protect.MethodChattr} {
		t.Run(method, func(t *testing.T) {
			backend, err := protect.New(method)
			require.NoError(t, err)
			s := NewServer(config.Defaults(), backend, newFakeMonitor(), nil, nil)

			missing := filepath.Join(t.TempDir(), "gone")
			resp := s.Dispatch(t.Context(), protocol.Request{
				Command: protocol.CmdSetAttribute,
				Files:   []string{missing},
				Mode:    protocol.StringMode("unset"),
			})

			assert.True(t, resp.Success)
			assert.Empty(t, resp.Errors)
			assert.Equal(t, 1, resp.FilesProcessed)
			require.Len(t, resp.Results, 1)
			assert.Equal(t, missing, resp.Results[0].Path)
			assert.True(t, resp.Results[0].Success)
		})
	}
}
