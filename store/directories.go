//go:build !docker
// +build !docker

package store

import (
	"os"
	"path/filepath"
	"runtime"
)

// DefaultRoot resolves <root> per spec.md §6: %APPDATA%/mimekit on
// Windows-class systems, $HOME/.mimekit elsewhere. It is an exported
// variable a program may reassign before constructing a backend; because
// it is initialized by a function call, the linker's -X flag does not
// override it in this build (it does in the docker build). Mirrors the
// teacher's directories.go/directories_docker.go split (ConfigDirectory etc.).
var DefaultRoot = func() string {
	if runtime.GOOS == "windows" {
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, "mimekit")
		}
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".mimekit"
	}
	return filepath.Join(home, ".mimekit")
}()
