package download

import (
	"archive/zip"
	"bufio"
	"fmt"
	"path"
	"regexp"
	"strings"
)

var nameSeparators = regexp.MustCompile(`[-_.]+`)

// NormalizeName applies PEP 503 project name normalization.
func NormalizeName(name string) string {
	return strings.ToLower(nameSeparators.ReplaceAllString(strings.TrimSpace(name), "-"))
}

// WheelName reads the Name field from the .dist-info/METADATA file of the
// wheel (or wheel-derived zip) at filename.
func WheelName(filename string) (string, error) {
	zr, err := zip.OpenReader(filename)
	if err != nil {
		return "", fmt.Errorf("open wheel %s: %w", filename, err)
	}
	defer zr.Close()

	for _, f := range zr.File {
		dir, base := path.Split(f.Name)
		if base != "METADATA" || strings.Count(dir, "/") != 1 || !strings.HasSuffix(dir, ".dist-info/") {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return "", fmt.Errorf("read %s in %s: %w", f.Name, filename, err)
		}
		name, err := metadataName(bufio.NewScanner(rc))
		_ = rc.Close()
		if err != nil {
			return "", fmt.Errorf("parse %s in %s: %w", f.Name, filename, err)
		}
		return name, nil
	}
	return "", fmt.Errorf("wheel %s has no dist-info METADATA", filename)
}

// metadataName scans RFC 822 style headers up to the first blank line.
func metadataName(sc *bufio.Scanner) (string, error) {
	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			break
		}
		key, value, ok := strings.Cut(line, ":")
		if ok && strings.EqualFold(strings.TrimSpace(key), "Name") {
			return strings.TrimSpace(value), nil
		}
	}
	if err := sc.Err(); err != nil {
		return "", err
	}
	return "", fmt.Errorf("no Name header")
}
