package cellmodel

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
)

// Fingerprint reduces a model to a stable content hash. The canonical
// serialisation sorts worksheet names and coordinates so that two reads
// of the same content always hash identically regardless of iteration
// order.
func Fingerprint(m *Model) string {
	h := sha256.New()

	names := make([]string, 0, len(m.sheets))
	for name := range m.sheets {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		sheet := m.sheets[name]

		coords := make([]string, 0, len(sheet))
		for coord := range sheet {
			coords = append(coords, coord)
		}
		sort.Strings(coords)

		for _, coord := range coords {
			entry := sheet[coord]
			// NUL separators keep "A1"+"B" distinct from "A"+"1B".
			h.Write([]byte(name))
			h.Write([]byte{0})
			h.Write([]byte(coord))
			h.Write([]byte{0})
			h.Write([]byte(entry.Formula))
			h.Write([]byte{0})
			h.Write([]byte(entry.Value))
			h.Write([]byte{'\n'})
		}
	}

	return hex.EncodeToString(h.Sum(nil))
}
