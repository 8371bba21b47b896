// Package archive gives raw access to the parts of an Office Open XML
// container (a zip of XML parts). The snapshot engine uses it for the
// metadata parts that the workbook library does not expose: external-link
// tables and relationship files.
package archive

import (
	"archive/zip"
	"encoding/xml"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"
)

// Reader is an open workbook container.
type Reader struct {
	zr    *zip.ReadCloser
	parts map[string]*zip.File
}

// Open opens the container at path.
func Open(p string) (*Reader, error) {
	zr, err := zip.OpenReader(p)
	if err != nil {
		return nil, fmt.Errorf("open archive %s: %w", p, err)
	}

	parts := make(map[string]*zip.File, len(zr.File))
	for _, f := range zr.File {
		parts[f.Name] = f
	}
	return &Reader{zr: zr, parts: parts}, nil
}

// Close releases the underlying file handle.
func (r *Reader) Close() error {
	return r.zr.Close()
}

// ReadPart returns the bytes of the named part.
func (r *Reader) ReadPart(name string) ([]byte, error) {
	f, ok := r.parts[name]
	if !ok {
		return nil, fmt.Errorf("part %s: not present", name)
	}

	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("open part %s: %w", name, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read part %s: %w", name, err)
	}
	return data, nil
}

// ListParts returns the names of all parts starting with prefix, sorted.
func (r *Reader) ListParts(prefix string) []string {
	var names []string
	for name := range r.parts {
		if strings.HasPrefix(name, prefix) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

type relationships struct {
	Relationship []struct {
		ID     string `xml:"Id,attr"`
		Target string `xml:"Target,attr"`
	} `xml:"Relationship"`
}

// Relationships parses the _rels file for the given part and returns a
// map from relationship id to target. An absent _rels part yields an
// empty map.
func (r *Reader) Relationships(partName string) (map[string]string, error) {
	dir, base := path.Split(partName)
	relsName := path.Join(dir, "_rels", base+".rels")

	if _, ok := r.parts[relsName]; !ok {
		return map[string]string{}, nil
	}

	data, err := r.ReadPart(relsName)
	if err != nil {
		return nil, err
	}

	var rels relationships
	if err := xml.Unmarshal(data, &rels); err != nil {
		return nil, fmt.Errorf("parse %s: %w", relsName, err)
	}

	out := make(map[string]string, len(rels.Relationship))
	for _, rel := range rels.Relationship {
		out[rel.ID] = rel.Target
	}
	return out, nil
}
