//go:build !linux

package actions

func syncFilesystems() {}
