// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 The ltdhub Authors

package main

import (
	"bufio"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// cmd/ is GPL, libraries and the entry point are Apache
func expectedLicense(path string) string {
	if strings.HasPrefix(filepath.ToSlash(path), "cmd/") {
		return "GPL-2.0-or-later"
	}
	return "Apache-2.0"
}

func TestSourceHeaders(t *testing.T) {
	var files []string
	for _, root := range []string{"main.go", "cmd", "internal", "pkg"} {
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() && strings.HasSuffix(path, ".go") {
				files = append(files, path)
			}
			return nil
		})
		require.NoError(t, err)
	}
	require.NotEmpty(t, files)

	for _, path := range files {
		f, err := os.Open(path)
		require.NoError(t, err)

		scanner := bufio.NewScanner(f)
		var header []string
		for len(header) < 2 && scanner.Scan() {
			header = append(header, scanner.Text())
		}
		f.Close()

		require.Len(t, header, 2, path)
		assert.Equal(t, "// SPDX-License-Identifier: "+expectedLicense(path), header[0], path)
		assert.Equal(t, "// Copyright (c) 2025 The ltdhub Authors", header[1], path)
	}
}
