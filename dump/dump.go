// Package dump provides functions to dump messages and logs in various formats
//
// For testing and debugging only, not performance critical.
package dump

import (
	"bufio"
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"

	"github.com/relex/gotils/logger"
)

// PrintFileOrDirectories prints log records from a list of files or directories of files (no nesting)
func PrintFileOrDirectories(pathList []string, ignoreError bool) error {
	bufWriter := bufio.NewWriterSize(os.Stdout, 1048576)
	defer bufWriter.Flush()
	for _, path := range pathList {
		stat, statErr := os.Stat(path)
		if statErr != nil {
			if ignoreError {
				logger.Errorf("input '%s' is not accessible: %v", path, statErr)
				continue
			}
			return fmt.Errorf("input '%s' is not accessible: %w", path, statErr)
		}
		if stat.IsDir() {
			fileList, err := ioutil.ReadDir(path)
			if err != nil {
				return fmt.Errorf("failed to list '%s': %w", path, err)
			}
			for _, file := range fileList {
				if err := PrintChunkFileInJSON(filepath.Join(path, file.Name()), false, bufWriter); err != nil {
					if !ignoreError {
						return err
					}
					logger.Error(err)
				}
			}
		} else if err := PrintChunkFileInJSON(path, false, bufWriter); err != nil {
			if !ignoreError {
				return err
			}
			logger.Error(err)
		}
	}
	return nil
}
