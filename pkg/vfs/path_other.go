//go:build windows || darwin

package vfs

const hostCaseSensitive = false
