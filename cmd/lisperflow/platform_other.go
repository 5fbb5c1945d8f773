//go:build !windows

package main

import (
	"fmt"
	"runtime"

	"github.com/zordhalo/lisper-flow/pkg/provider/input"
)

func newPlatform() (input.Platform, error) {
	return nil, fmt.Errorf("keystroke injection is not implemented for %s", runtime.GOOS)
}
