package hashutil

import (
	"crypto/md5"
	"fmt"
	"io"
	"os"
)

// FileHash returns the MD5 hex digest of the file contents at path.
func FileHash(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer func() {
		_ = file.Close()
	}()

	hash := md5.New()
	if _, err := io.Copy(hash, file); err != nil {
		return "", err
	}

	return fmt.Sprintf("%x", hash.Sum(nil)), nil
}

// PathHash returns the MD5 hex digest of the path string itself. It is
// used as a stable filename suffix, so one path always maps to the same
// backup file.
func PathHash(path string) string {
	return fmt.Sprintf("%x", md5.Sum([]byte(path)))
}
