package filesystem

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"

	"golang.org/x/crypto/blake2b"

	"rawxfer/internal/config"
	"rawxfer/internal/errors"
)

// hashBufferSize is the read size used while digesting files
const hashBufferSize = 1024 * 1024

// FileInfo represents information about a file to be transferred
type FileInfo struct {
	Size  int64
	Path  string
	IsDir bool
}

// GetFileInfo returns information about a file
func GetFileInfo(path string) (*FileInfo, error) {
	stat, err := os.Stat(path)
	if err != nil {
		return nil, errors.NewFileSystemError("stat", path, err)
	}

	return &FileInfo{
		Size:  stat.Size(),
		Path:  path,
		IsDir: stat.IsDir(),
	}, nil
}

// OpenInput opens a regular file for reading.
func OpenInput(path string) (*os.File, error) {
	info, err := GetFileInfo(path)
	if err != nil {
		return nil, err
	}
	if info.IsDir {
		return nil, errors.NewValidationError("input", path, "cannot transfer directories")
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, errors.NewFileSystemError("open", path, err)
	}
	return file, nil
}

// CreateOutput creates or truncates the file the echoed data is written to.
// Missing parent directories are created.
func CreateOutput(path string) (*os.File, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := EnsureDirectoryExists(dir); err != nil {
			return nil, err
		}
	}

	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, config.OutputFilePerm)
	if err != nil {
		return nil, errors.NewFileSystemError("create", path, err)
	}
	return file, nil
}

// ReadPayload reads the whole of r and returns it repeated multi times.
// The repeated payload may not exceed config.MaxPayloadSize.
func ReadPayload(r io.Reader, name string, multi int) ([]byte, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.NewFileSystemError("read", name, err)
	}
	if multi <= 1 || len(data) == 0 {
		return data, nil
	}

	if multi > math.MaxInt/len(data) || int64(len(data))*int64(multi) > config.MaxPayloadSize {
		return nil, errors.NewValidationError("multi", multi,
			fmt.Sprintf("payload size overflows: %d bytes x %d exceeds %d bytes", len(data), multi, config.MaxPayloadSize))
	}
	return bytes.Repeat(data, multi), nil
}

// HashFile returns the hex BLAKE2b-256 digest of the file at path
func HashFile(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", errors.NewFileSystemError("open", path, err)
	}
	defer file.Close()

	return CalculateFileHash(file)
}

// CalculateFileHash calculates the BLAKE2b-256 hash of a file from its start
func CalculateFileHash(file *os.File) (string, error) {
	// Reset file position
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		return "", errors.NewFileSystemError("seek", file.Name(), err)
	}

	hash, err := blake2b.New256(nil)
	if err != nil {
		return "", errors.NewFileSystemError("hash_init", file.Name(), err)
	}

	buffer := make([]byte, hashBufferSize)
	if _, err := io.CopyBuffer(hash, file, buffer); err != nil {
		return "", errors.NewFileSystemError("read_hash", file.Name(), err)
	}

	return hex.EncodeToString(hash.Sum(nil)), nil
}

// EnsureDirectoryExists creates a directory if it doesn't exist
func EnsureDirectoryExists(dir string) error {
	if err := os.MkdirAll(dir, config.LogDirPerms); err != nil {
		return errors.NewFileSystemError("mkdir", dir, err)
	}

	return nil
}
