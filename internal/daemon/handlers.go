package daemon

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/fadcrypt/fadcrypt/internal/protect"
	"github.com/fadcrypt/fadcrypt/internal/protocol"
	"github.com/fadcrypt/fadcrypt/internal/syslog"
)

type attributeOp int

const (
	opSet attributeOp = iota
	opUnset
)

func parseAttributeMode(m protocol.Mode) (attributeOp, error) {
	if m.IsNumeric() {
		return 0, fmt.Errorf("%w: mode must be set or unset", protocol.ErrValidation)
	}
	switch m.String() {
	case "set", "+i":
		return opSet, nil
	case "unset", "-i":
		return opUnset, nil
	}
	return 0, fmt.Errorf("%w: mode %q must be set or unset", protocol.ErrValidation, m.String())
}

func notFound(path string) string {
	return path + ": Not found"
}

func (s *Server) setAttribute(ctx context.Context, req protocol.Request) protocol.Response {
	op, err := parseAttributeMode(req.Mode)
	if err != nil {
		return protocol.Failure("Invalid mode: %v", err)
	}

	errs := []string{}
	var valid []string
	// Missing targets of an unset are already unprotected.
	var absent []protect.Result
	for _, f := range req.Files {
		path, err := filepath.Abs(f)
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", f, err))
			continue
		}
		if _, err := os.Lstat(path); err != nil {
			switch {
			case op == opUnset && errors.Is(err, fs.ErrNotExist):
				absent = append(absent, protect.Result{Path: path})
			case errors.Is(err, fs.ErrNotExist):
				errs = append(errs, notFound(path))
			default:
				errs = append(errs, fmt.Sprintf("%s: %v", path, err))
			}
			continue
		}
		valid = append(valid, path)
	}

	if len(valid) == 0 && len(absent) == 0 {
		return protocol.Response{Success: false, Error: "No valid files to process", Errors: errs}
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.HelperTimeout.Duration)
	defer cancel()

	var results []protect.Result
	switch {
	case len(valid) == 0:
	case op == opSet:
		results = s.backend.Protect(ctx, valid)
	default:
		results = s.backend.Unprotect(ctx, valid)
	}
	results = append(results, absent...)

	resp := aggregate(results, errs)
	if protect.TimedOut(results) {
		syslog.L.Error(protect.ErrHelperTimeout).WithMessage("attribute helper timed out").
			WithField("files", len(valid)).Write()
		resp.Success = false
		resp.Error = "Command timeout"
		return resp
	}

	verb := "set"
	if op == opUnset {
		verb = "unset"
	}
	resp.Message = fmt.Sprintf("%s %s completed for %d files", s.backend.Name(), verb, resp.FilesProcessed)
	return resp
}

func aggregate(results []protect.Result, errs []string) protocol.Response {
	resp := protocol.Response{Errors: errs}
	for _, r := range results {
		item := protocol.ItemResult{Path: r.Path, Success: r.Err == nil}
		if r.Err != nil {
			item.Error = r.Err.Error()
			resp.Errors = append(resp.Errors, r.Err.Error())
		} else {
			resp.FilesProcessed++
		}
		resp.Results = append(resp.Results, item)
	}
	resp.Success = len(resp.Errors) == 0
	return resp
}

// setPermissionBits parses the mode once and then applies it file by file.
func (s *Server) setPermissionBits(req protocol.Request) protocol.Response {
	change, err := protocol.ParsePermission(req.Mode)
	if err != nil {
		return protocol.Failure("Invalid mode: %v", err)
	}

	errs := []string{}
	processed := 0
	for _, f := range req.Files {
		path, err := filepath.Abs(f)
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", f, err))
			continue
		}

		info, err := os.Stat(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				errs = append(errs, notFound(path))
			} else {
				errs = append(errs, fmt.Sprintf("%s: %v", path, err))
			}
			continue
		}

		if err := os.Chmod(path, change.Apply(info.Mode())); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", path, err))
			continue
		}
		processed++
	}

	return protocol.Response{
		Success:        len(errs) == 0,
		Message:        fmt.Sprintf("chmod completed for %d files", processed),
		FilesProcessed: processed,
		Errors:         errs,
	}
}

func itemResponse(results []protocol.ItemResult, verb string) protocol.Response {
	resp := protocol.Response{Errors: []string{}, Results: results}
	for _, r := range results {
		if r.Success {
			resp.FilesProcessed++
			continue
		}
		resp.Errors = append(resp.Errors, fmt.Sprintf("%s: %s", r.Path, r.Error))
	}
	resp.Success = len(resp.Errors) == 0
	resp.Message = fmt.Sprintf("%s %d paths", verb, resp.FilesProcessed)
	return resp
}

func (s *Server) watch(files []string) protocol.Response {
	resp := itemResponse(s.monitor.Watch(files), "Watching")
	resp.State = s.monitor.State().String()
	return resp
}

func (s *Server) unwatch(files []string) protocol.Response {
	resp := itemResponse(s.monitor.Unwatch(files), "Unwatched")
	resp.State = s.monitor.State().String()
	return resp
}

func (s *Server) startMonitor(ctx context.Context) protocol.Response {
	if err := s.monitor.Start(ctx); err != nil {
		syslog.L.Error(err).WithMessage("failed to start access monitor").Write()
		resp := protocol.Failure("Failed to start monitor: %v", err)
		resp.State = s.monitor.State().String()
		return resp
	}
	return protocol.Response{Success: true, Message: "Monitor started", State: s.monitor.State().String()}
}

func (s *Server) stopMonitor() protocol.Response {
	if err := s.monitor.Stop(); err != nil {
		syslog.L.Error(err).WithMessage("access monitor stopped with errors").Write()
		resp := protocol.Failure("Monitor stopped with errors: %v", err)
		resp.State = s.monitor.State().String()
		return resp
	}
	return protocol.Response{Success: true, Message: "Monitor stopped", State: s.monitor.State().String()}
}
