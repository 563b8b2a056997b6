//go:build !darwin && !linux

package journal

import "fmt"

func detectFilesystemType(string) (string, error) {
	return "", fmt.Errorf("filesystem detection is unsupported on this platform")
}
