package utils

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// imageExts are the extensions the loader can decode
var imageExts = map[string]struct{}{
	"jpg": {}, "jpeg": {}, "png": {}, "webp": {}, "gif": {},
}

// EnsureDir creates a directory if it doesn't exist
func EnsureDir(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}
	return nil
}

// GetFileExtension returns the lowercased file extension without the dot
func GetFileExtension(filename string) string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(filename), "."))
}

// IsImageFile checks if a file has a decodable image extension
func IsImageFile(filename string) bool {
	_, ok := imageExts[GetFileExtension(filename)]
	return ok
}

// CropOutputPath builds dir/<prefix><name><suffix>.<format> for a source file
func CropOutputPath(inputFile, outputDir, prefix, suffix, format string) string {
	base := filepath.Base(inputFile)
	name := SanitizeFilename(strings.TrimSuffix(base, filepath.Ext(base)))
	if name == "" {
		name = "image"
	}
	if format == "" {
		format = "jpg"
	}
	return filepath.Join(outputDir, fmt.Sprintf("%s%s%s.%s", prefix, name, suffix, format))
}

// UniquePaths renames repeated paths to name-2.ext, name-3.ext and so on,
// keeping the first occurrence. A generated name never collides with any
// path in the input.
func UniquePaths(paths []string) []string {
	taken := make(map[string]struct{}, len(paths))
	for _, p := range paths {
		taken[p] = struct{}{}
	}

	used := make(map[string]struct{}, len(paths))
	out := make([]string, len(paths))
	for i, p := range paths {
		if _, dup := used[p]; !dup {
			out[i] = p
			used[p] = struct{}{}
			continue
		}
		ext := filepath.Ext(p)
		stem := strings.TrimSuffix(p, ext)
		for n := 2; ; n++ {
			candidate := fmt.Sprintf("%s-%d%s", stem, n, ext)
			_, inInput := taken[candidate]
			_, inUse := used[candidate]
			if !inInput && !inUse {
				out[i] = candidate
				used[candidate] = struct{}{}
				break
			}
		}
	}
	return out
}

// ListImageFiles lists image files under dir in lexical order, descending
// into subdirectories when recursive is set
func ListImageFiles(dir string, recursive bool) ([]string, error) {
	var files []string

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != dir && !recursive {
				return filepath.SkipDir
			}
			return nil
		}
		if IsImageFile(path) {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", dir, err)
	}

	sort.Strings(files)
	return files, nil
}

// DirExists checks if a directory exists
func DirExists(dirname string) bool {
	info, err := os.Stat(dirname)
	return err == nil && info.IsDir()
}

// SanitizeFilename replaces characters that are invalid in file names
func SanitizeFilename(filename string) string {
	result := strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|':
			return '_'
		}
		return r
	}, filename)

	return strings.Trim(result, " .")
}

// FormatFileSize formats a byte count in human-readable form
func FormatFileSize(size int64) string {
	const unit = 1024
	if size < unit {
		return fmt.Sprintf("%d B", size)
	}

	div, exp := int64(unit), 0
	for n := size / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}

	return fmt.Sprintf("%.1f %cB", float64(size)/float64(div), "KMGTPE"[exp])
}
