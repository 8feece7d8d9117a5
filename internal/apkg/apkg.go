// Copyright: Jonathan Hall
// License: GNU AGPL, Version 3 or later; http://www.gnu.org/licenses/agpl.html

// Package apkg packs and unpacks Anki package files. A *.apkg is a zip
// archive holding a collection.anki2 SQLite database and a media manifest (a
// JSON object mapping archive member names to filenames; always empty here,
// since collections carry no media).
package apkg

import (
	"archive/zip"
	"bytes"
	"compress/flate"
	"fmt"
	"io"
)

const (
	// CollectionEntry is the database member every package must contain.
	CollectionEntry = "collection.anki2"
	// MediaEntry is the manifest member.
	MediaEntry = "media"
	// EmptyMediaManifest is the manifest body for a media-less collection.
	EmptyMediaManifest = "{}"
	// DefaultZipLevel is the deflate level used when none is configured.
	DefaultZipLevel = 6
)

// Write assembles a package from collection bytes into w, compressing with
// the given deflate level (0..9; out-of-range selects the default).
func Write(w io.Writer, collection []byte, level int) error {
	if level < flate.NoCompression || level > flate.BestCompression {
		level = DefaultZipLevel
	}
	archive := zip.NewWriter(w)
	archive.RegisterCompressor(zip.Deflate, func(out io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(out, level)
	})

	entry, err := archive.Create(CollectionEntry)
	if err != nil {
		return fmt.Errorf("create %s entry: %w", CollectionEntry, err)
	}
	if _, err := entry.Write(collection); err != nil {
		return fmt.Errorf("write collection: %w", err)
	}

	media, err := archive.Create(MediaEntry)
	if err != nil {
		return fmt.Errorf("create %s entry: %w", MediaEntry, err)
	}
	if _, err := io.WriteString(media, EmptyMediaManifest); err != nil {
		return fmt.Errorf("write media manifest: %w", err)
	}
	return archive.Close()
}

// Build returns the package as a byte slice.
func Build(collection []byte, level int) ([]byte, error) {
	var buf bytes.Buffer
	if err := Write(&buf, collection, level); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
