// Copyright 2015 The go-ethereum Authors
// This file is part of go-ethereum.
//
// go-ethereum is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// go-ethereum is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with go-ethereum. If not, see <http://www.gnu.org/licenses/>.
package file

import (
	"io"
	"os"
	"os/user"
	"path"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// ReadWritePermissions used for the ceremony artifacts written locally.
const ReadWritePermissions = 0o600

// ReadWriteExecutePermissions used for scratch and session directories.
const ReadWriteExecutePermissions = 0o700

// ExpandPath expands a file path: ~ into the user's home directory,
// environment variables into their values, and the result into an absolute
// path.
func ExpandPath(p string) (string, error) {
	if strings.HasPrefix(p, "~/") || strings.HasPrefix(p, "~\\") {
		if home := HomeDir(); home != "" {
			p = home + p[1:]
		}
	}
	return filepath.Abs(path.Clean(os.ExpandEnv(p)))
}

// HomeDir returns the user's home directory, preferring $HOME over the
// system account record.
func HomeDir() string {
	if home := os.Getenv("HOME"); home != "" {
		return home
	}
	if usr, err := user.Current(); err == nil {
		return usr.HomeDir
	}
	return ""
}

// MkdirAll creates dirPath and any missing parents with 0700 permissions.
// An existing directory with looser permissions is refused rather than
// silently reused.
func MkdirAll(dirPath string) error {
	exists, err := HasDir(dirPath)
	if err != nil {
		return err
	}
	if exists {
		info, err := os.Stat(dirPath)
		if err != nil {
			return err
		}
		if info.Mode().Perm() != ReadWriteExecutePermissions {
			return errors.Errorf("dir %s already exists without proper 0700 permissions", dirPath)
		}
	}
	return os.MkdirAll(dirPath, ReadWriteExecutePermissions)
}

// WriteFile writes data to path with 0600 permissions, refusing to reuse an
// existing file with looser permissions.
func WriteFile(path string, data []byte) error {
	if FileExists(path) {
		info, err := os.Stat(path)
		if err != nil {
			return err
		}
		if info.Mode() != ReadWritePermissions {
			return errors.Errorf("file %s already exists without proper 0600 permissions", path)
		}
	}
	return os.WriteFile(path, data, ReadWritePermissions)
}

// HasDir checks if a directory exists at dirPath.
func HasDir(dirPath string) (bool, error) {
	info, err := os.Stat(dirPath)
	if os.IsNotExist(err) {
		return false, nil
	}
	if info == nil {
		return false, err
	}
	return info.IsDir(), err
}

// FileExists returns true if a file is found at the specified path.
func FileExists(filename string) bool {
	info, err := os.Stat(filename)
	if err != nil {
		if !os.IsNotExist(err) {
			logrus.WithError(err).Info("Checking for file existence returned an error")
		}
		return false
	}
	return info != nil && !info.IsDir()
}

// ReadFileAsBytes expands a file name's absolute path and reads it as bytes
// from disk.
func ReadFileAsBytes(filename string) ([]byte, error) {
	filePath, err := ExpandPath(filename)
	if err != nil {
		return nil, errors.Wrap(err, "could not determine absolute path of file")
	}
	return os.ReadFile(filePath) // #nosec G304
}

// CopyFile copies src to dst preserving none of the metadata.
func CopyFile(src, dst string) error {
	if !FileExists(src) {
		return errors.Errorf("file %s does not exist", src)
	}
	f, err := os.Open(src) // #nosec G304
	if err != nil {
		return err
	}
	dstFile, err := os.Create(dst) // #nosec G304
	if err != nil {
		return err
	}
	if _, err := io.Copy(dstFile, f); err != nil {
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return dstFile.Close()
}
