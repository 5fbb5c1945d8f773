//go:build windows

package main

import (
	"github.com/zordhalo/lisper-flow/pkg/provider/input"
	"github.com/zordhalo/lisper-flow/pkg/provider/input/windows"
)

func newPlatform() (input.Platform, error) {
	return windows.New(), nil
}
