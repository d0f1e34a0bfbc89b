//go:build windows

package daemon

import (
	"fmt"
	"net"
	"os"
	"path/filepath"

	"github.com/fadcrypt/fadcrypt/internal/syslog"
)

func (s *Server) Listen() error {
	return s.listenPath(s.cfg.ControlSocket)
}

func (s *Server) listenPath(socketPath string) error {
	if err := os.MkdirAll(filepath.Dir(socketPath), 0755); err != nil {
		return fmt.Errorf("failed to create socket directory: %w", err)
	}
	_ = os.RemoveAll(socketPath)

	ln, err := net.Listen("unix", socketPath)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", socketPath, err)
	}

	s.ln = ln
	syslog.L.Info().WithMessage("control socket listening").
		WithField("socket", socketPath).Write()
	return nil
}

func notifyReady()    {}
func notifyStopping() {}
