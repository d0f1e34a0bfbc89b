//go:build !windows

package daemon

import (
	"context"
	"net"
	"os"
	"runtime"
	"testing"

	"github.com/fadcrypt/fadcrypt/internal/config"
	"github.com/fadcrypt/fadcrypt/internal/protocol"
	"github.com/fadcrypt/fadcrypt/internal/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTrustPolicy(t *testing.T) {
	assert.IsType(t, AnyLocal{}, NewTrustPolicy(config.TrustConfig{Mode: config.TrustAny}))
	assert.Equal(t, PeerUID{Allowed: []uint32{1000}}, NewTrustPolicy(config.TrustConfig{Mode: config.TrustUID, AllowedUIDs: []uint32{1000}}))
	assert.Equal(t, Polkit{Action: "org.example.manage"}, NewTrustPolicy(config.TrustConfig{Mode: config.TrustPolkit, PolkitAction: "org.example.manage"}))
}

func TestPolkitOverSocket(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("SO_PEERCRED is linux only")
	}
	if os.Getuid() == 0 {
		t.Skip("root is always allowed")
	}

	for _, granted := range []bool{false, true} {
		asked := make(chan string, 1)
		s, _, _ := newTestServer(t)
		s.trust = Polkit{
			Action: "org.example.manage",
			check: func(_ context.Context, cred peerCredentials, action string) (bool, error) {
				assert.Equal(t, uint32(os.Getuid()), cred.UID)
				assert.Equal(t, int32(os.Getpid()), cred.PID)
				asked <- action
				return granted, nil
			},
		}
		path := serve(t, s)

		resp := roundTrip(t, path, func(c net.Conn) {
			require.NoError(t, wire.WriteFrame(c, protocol.Request{Command: protocol.CmdPing}))
		})
		assert.Equal(t, granted, resp.Success)
		assert.Equal(t, "org.example.manage", <-asked)
	}
}

func TestPeerUIDOverSocket(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("SO_PEERCRED is linux only")
	}
	if os.Getuid() == 0 {
		t.Skip("root is always allowed")
	}

	uid := uint32(os.Getuid())
	cases := []struct {
		allowed []uint32
		success bool
	}{
		{[]uint32{uid + 1}, false},
		{[]uint32{uid}, true},
	}
	for _, tc := range cases {
		s, _, _ := newTestServer(t)
		s.trust = PeerUID{Allowed: tc.allowed}
		path := serve(t, s)

		resp := roundTrip(t, path, func(c net.Conn) {
			require.NoError(t, wire.WriteFrame(c, protocol.Request{Command: protocol.CmdPing}))
		})
		assert.Equal(t, tc.success, resp.Success)
		if !tc.success {
			assert.Contains(t, resp.Error, "Permission denied")
		}
	}
}
