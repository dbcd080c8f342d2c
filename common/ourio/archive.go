//
// Copyright (c) 2014-2019 Cesanta Software Limited
// All rights reserved
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//
package ourio

import (
	zip_impl "archive/zip"
	"io"
	"os"
	"path/filepath"

	"github.com/juju/errors"
)

// ProgressFunc is called for each file before it is added to the archive.
// Returning false skips the file.
type ProgressFunc func(archivePath string) bool

// Archive writes a zip of the given files to writer. Files are stored flat,
// under their base names. Returns the names that were added.
func Archive(files []string, writer io.Writer, progress ProgressFunc) ([]string, error) {
	zipWriter := zip_impl.NewWriter(writer)
	var added []string
	for _, fn := range files {
		archivePath := filepath.Base(fn)
		if progress != nil && !progress(archivePath) {
			continue
		}
		if err := addFile(zipWriter, fn, archivePath); err != nil {
			zipWriter.Close()
			return added, errors.Annotatef(err, "failed to archive %s", fn)
		}
		added = append(added, archivePath)
	}
	return added, errors.Trace(zipWriter.Close())
}

func addFile(zw *zip_impl.Writer, filePath, archivePath string) error {
	file, err := os.Open(filePath)
	if err != nil {
		return errors.Trace(err)
	}
	defer file.Close()
	st, err := file.Stat()
	if err != nil {
		return errors.Trace(err)
	}
	hdr, err := zip_impl.FileInfoHeader(st)
	if err != nil {
		return errors.Trace(err)
	}
	hdr.Name = archivePath
	hdr.Method = zip_impl.Deflate
	zipFileWriter, err := zw.CreateHeader(hdr)
	if err != nil {
		return errors.Trace(err)
	}
	_, err = io.Copy(zipFileWriter, file)
	return errors.Trace(err)
}
