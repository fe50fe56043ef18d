package archive

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// ExcludePaths contains paths that are never packaged into an artifact
var ExcludePaths = []string{
	".git",
	".github",
}

// CreateArchive packages a checkout directory into a zip artifact,
// excluding version-control paths
func CreateArchive(sourceDir, targetFile string) error {
	// Create the artifact file
	artifact, err := os.Create(targetFile)
	if err != nil {
		return fmt.Errorf("failed to create artifact file: %w", err)
	}
	defer artifact.Close()

	// Create a new zip writer
	writer := zip.NewWriter(artifact)

	// Walk through the source directory
	err = filepath.Walk(sourceDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		// Skip if it's a directory
		if info.IsDir() {
			return nil
		}

		// Check if the file should be excluded
		relPath, err := filepath.Rel(sourceDir, path)
		if err != nil {
			return err
		}

		if shouldExclude(relPath) {
			return nil
		}

		// Create a new file in the artifact
		file, err := writer.Create(relPath)
		if err != nil {
			return fmt.Errorf("failed to create file in artifact: %w", err)
		}

		// Open the source file
		sourceFile, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("failed to open source file: %w", err)
		}
		defer sourceFile.Close()

		// Copy the file contents into the artifact
		_, err = io.Copy(file, sourceFile)
		if err != nil {
			return fmt.Errorf("failed to copy file contents: %w", err)
		}

		return nil
	})
	if err != nil {
		writer.Close()
		return err
	}

	// The close flushes the central directory; a short write here means
	// a truncated artifact
	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to finalize artifact: %w", err)
	}

	return nil
}

// shouldExclude checks if a path should be excluded from the artifact
func shouldExclude(path string) bool {
	for _, exclude := range ExcludePaths {
		if strings.HasPrefix(path, exclude) {
			return true
		}
	}
	return false
}

// GetFileSize returns the size of a file
func GetFileSize(filePath string) (int64, error) {
	info, err := os.Stat(filePath)
	if err != nil {
		return 0, fmt.Errorf("failed to get file info: %w", err)
	}
	return info.Size(), nil
}

// NewestFile returns the most recently modified regular file in a
// directory. Build commands drop their artifact in a dist directory
// and this picks it up.
func NewestFile(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("failed to read dist directory: %w", err)
	}

	var newest string
	var newestMod int64
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if newest == "" || info.ModTime().UnixNano() > newestMod {
			newest = entry.Name()
			newestMod = info.ModTime().UnixNano()
		}
	}

	if newest == "" {
		return "", fmt.Errorf("no artifact found in %s", dir)
	}
	return filepath.Join(dir, newest), nil
}
