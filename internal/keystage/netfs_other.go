//go:build !linux

package keystage

// Only UNC paths are recognized outside Linux.
func onNetworkFilesystem(string) bool { return false }
