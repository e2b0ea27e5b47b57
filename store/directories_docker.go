//go:build docker
// +build docker

package store

// DefaultRoot under the docker build tag matches the teacher's convention
// of pinning state under a fixed, always-writable container path instead
// of probing $HOME (which may not exist for the container's UID).
var DefaultRoot = "/data/mimekit"
