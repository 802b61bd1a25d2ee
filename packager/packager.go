// Package packager builds the zip archive uploaded to the portal from a workspace directory.
package packager

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bitrise-io/go-utils/v2/pathutil"
	"github.com/bmatcuk/doublestar/v4"
	"github.com/docker/go-units"
	"github.com/klauspost/compress/zip"
)

// DefaultExcludes are never packaged, regardless of the configured patterns.
var DefaultExcludes = []string{
	".git/**",
	".github/**",
	".vscode/**",
	"node_modules/**",
}

// ZipPackager ...
type ZipPackager struct {
	pathProvider pathutil.PathProvider
	logger       log.Logger
}

// NewPackager ...
func NewPackager(pathProvider pathutil.PathProvider, logger log.Logger) *ZipPackager {
	return &ZipPackager{
		pathProvider: pathProvider,
		logger:       logger,
	}
}

// CreateArchive zips every regular file of workspacePath into <temp dir>/<assetName>.zip.
// Entries are stored as <assetName>/<path relative to the workspace>. Paths matching
// DefaultExcludes or excludes are skipped, excluded directories are not descended into.
func (p *ZipPackager) CreateArchive(workspacePath, assetName string, excludes []string) (string, error) {
	tmpDir, err := p.pathProvider.CreateTempDir("cfx-portal-upload")
	if err != nil {
		return "", fmt.Errorf("failed to create temp directory: %w", err)
	}
	archivePath := filepath.Join(tmpDir, assetName+".zip")

	archive, err := os.Create(archivePath)
	if err != nil {
		return "", fmt.Errorf("create archive file: %w", err)
	}
	defer archive.Close() //nolint:errcheck

	patterns := append(append([]string{}, DefaultExcludes...), excludes...)
	zipWriter := zip.NewWriter(archive)

	fileCount := 0
	err = filepath.WalkDir(workspacePath, func(filePath string, entry fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if filePath == workspacePath {
			return nil
		}

		relPath, err := filepath.Rel(workspacePath, filePath)
		if err != nil {
			return err
		}
		relPath = filepath.ToSlash(relPath)

		if ShouldExclude(relPath, patterns) {
			p.logger.Debugf("Skipping excluded path: %s", relPath)
			if entry.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		if !entry.Type().IsRegular() {
			return nil
		}

		entryName := path.Join(assetName, relPath)
		p.logger.Debugf("Adding file to zip: %s", entryName)
		if err := addFile(zipWriter, filePath, entryName); err != nil {
			return fmt.Errorf("add %s: %w", relPath, err)
		}
		fileCount++

		return nil
	})
	if err != nil {
		return "", fmt.Errorf("iterate on files: %w", err)
	}

	if err := zipWriter.Close(); err != nil {
		return "", fmt.Errorf("close zip writer: %w", err)
	}

	fileInfo, err := archive.Stat()
	if err != nil {
		return "", fmt.Errorf("stat archive: %w", err)
	}
	p.logger.Printf("Archived %d files, archive size: %s", fileCount, units.HumanSizeWithPrecision(float64(fileInfo.Size()), 3))

	return archivePath, nil
}

// ShouldExclude reports whether relPath (slash separated, relative to the workspace)
// matches one of the patterns. A pattern also excludes everything below a matching directory.
func ShouldExclude(relPath string, patterns []string) bool {
	for _, pattern := range patterns {
		if pattern == "" {
			continue
		}
		if match, err := doublestar.Match(pattern, relPath); err == nil && match {
			return true
		}
		if match, err := doublestar.Match(pattern+"/**", relPath); err == nil && match {
			return true
		}
	}
	return false
}

func addFile(zipWriter *zip.Writer, filePath, entryName string) error {
	info, err := os.Stat(filePath)
	if err != nil {
		return err
	}

	header, err := zip.FileInfoHeader(info)
	if err != nil {
		return fmt.Errorf("create file info header: %w", err)
	}
	header.Name = entryName
	header.Method = zip.Deflate

	writer, err := zipWriter.CreateHeader(header)
	if err != nil {
		return fmt.Errorf("write zip file header: %w", err)
	}

	file, err := os.Open(filePath)
	if err != nil {
		return fmt.Errorf("open file: %w", err)
	}
	defer file.Close() //nolint:errcheck

	if _, err := io.Copy(writer, file); err != nil {
		return fmt.Errorf("copy to archive: %w", err)
	}

	return nil
}
