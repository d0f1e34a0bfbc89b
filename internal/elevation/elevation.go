// Package elevation runs one-shot privileged operations through the
// platform's elevation facility when the daemon cannot serve them.
package elevation

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/fadcrypt/fadcrypt/internal/wire"
)

// ErrFacilityUnavailable means a strategy cannot be used on this machine at
// all. It is the only error that lets the broker try its fallback.
var ErrFacilityUnavailable = errors.New("elevation facility unavailable")

// Helper operations.
const (
	OpProtectFiles   = "protect-files"
	OpUnprotectFiles = "unprotect-files"
	OpDisableTools   = "disable-tools"
	OpEnableTools    = "enable-tools"
	OpInstallDaemon  = "install-daemon"
)

// PayloadFlag is the helper flag that carries an encoded Operation.
const PayloadFlag = "-payload"

type Operation struct {
	Name string   `cbor:"operation"`
	Args []string `cbor:"args"`
}

// Encode returns the operation as base64url CBOR, safe to pass unquoted on
// a command line or inside task XML.
func (op Operation) Encode() (string, error) {
	data, err := wire.Marshal(op)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(data), nil
}

func DecodeOperation(payload string) (Operation, error) {
	data, err := base64.RawURLEncoding.DecodeString(payload)
	if err != nil {
		return Operation{}, fmt.Errorf("decode payload: %w", err)
	}
	var op Operation
	if err := wire.Unmarshal(data, &op); err != nil {
		return Operation{}, fmt.Errorf("decode payload: %w", err)
	}
	if op.Name == "" {
		return Operation{}, errors.New("payload has no operation")
	}
	return op, nil
}

// Strategy runs the helper binary with elevated rights for one operation.
type Strategy interface {
	Name() string
	Execute(ctx context.Context, op Operation) error
}

func helperArgs(op Operation) ([]string, error) {
	payload, err := op.Encode()
	if err != nil {
		return nil, err
	}
	return []string{PayloadFlag, payload}, nil
}
