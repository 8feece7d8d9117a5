// Copyright: Jonathan Hall
// License: GNU AGPL, Version 3 or later; http://www.gnu.org/licenses/agpl.html

package apkg

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

// Package is an opened *.apkg, ready for inspection. It is primarily used to
// verify that an exported archive round-trips: the zip layout is checked at
// open time and the embedded database is queryable through DB.
type Package struct {
	reader *zip.Reader
	media  map[string]string

	db      *sqlx.DB
	tmpFile string
}

// ReadBytes opens a package from an in-memory archive.
func ReadBytes(b []byte) (*Package, error) {
	z, err := zip.NewReader(bytes.NewReader(b), int64(len(b)))
	if err != nil {
		return nil, err
	}
	p := &Package{reader: z}
	return p, p.open()
}

func (p *Package) open() error {
	index := make(map[string]*zip.File, len(p.reader.File))
	for _, f := range p.reader.File {
		index[f.Name] = f
	}

	collection, ok := index[CollectionEntry]
	if !ok {
		return fmt.Errorf("no %s in archive", CollectionEntry)
	}
	manifest, ok := index[MediaEntry]
	if !ok {
		return fmt.Errorf("no %s in archive", MediaEntry)
	}

	raw, err := readEntry(manifest)
	if err != nil {
		return err
	}
	p.media = make(map[string]string)
	if err := json.Unmarshal(raw, &p.media); err != nil {
		return fmt.Errorf("media manifest: %w", err)
	}

	dbBytes, err := readEntry(collection)
	if err != nil {
		return err
	}
	// The sqlite driver wants a file; dump the member to a temp copy.
	tmp, err := os.CreateTemp("", "apkg-sqlite3-")
	if err != nil {
		return err
	}
	p.tmpFile = tmp.Name()
	if _, err := tmp.Write(dbBytes); err != nil {
		tmp.Close()
		return err
	}
	tmp.Close()

	db, err := sqlx.Connect("sqlite3", p.tmpFile)
	if err != nil {
		return err
	}
	p.db = db
	return nil
}

func readEntry(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

// DB exposes the embedded collection database.
func (p *Package) DB() *sqlx.DB { return p.db }

// MediaCount reports the number of media files the manifest declares.
func (p *Package) MediaCount() int { return len(p.media) }

// Close releases the database handle and the temp copy. Only call it once
// you are done reading the package.
func (p *Package) Close() (e error) {
	if p.db != nil {
		if err := p.db.Close(); err != nil {
			e = err
		}
	}
	if p.tmpFile != "" {
		if err := os.Remove(p.tmpFile); err != nil {
			e = err
		}
	}
	return
}
