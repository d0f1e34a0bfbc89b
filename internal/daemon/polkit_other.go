//go:build !linux

package daemon

import (
	"context"
	"errors"
)

func polkitCheck(context.Context, peerCredentials, string) (bool, error) {
	return false, errors.New("polkit is not available on this platform")
}
