package snapshot

import (
	"encoding/xml"
	"fmt"
	"path"
	"strconv"
	"strings"

	"github.com/ckcm0210/watchdog/pkg/archive"
)

const externalLinkPrefix = "xl/externalLinks/externalLink"

// externalBookPr carries the absolute link target some producers
// preserve alongside the relationship. Element matching is by local
// name, so the x14 extension namespace resolves too.
type externalBookPr struct {
	Href string `xml:"href,attr"`
}

type externalLinkPart struct {
	ExternalBook struct {
		RID    string          `xml:"id,attr"`
		BookPr *externalBookPr `xml:"externalBookPr"`
		ExtLst struct {
			Ext []struct {
				BookPr *externalBookPr `xml:"externalBookPr"`
			} `xml:"ext"`
		} `xml:"extLst"`
	} `xml:"externalBook"`
}

// href returns the externalBookPr target, whether written as a direct
// child of externalBook or tucked into its extLst extension block.
func (p *externalLinkPart) href() string {
	if pr := p.ExternalBook.BookPr; pr != nil && pr.Href != "" {
		return pr.Href
	}
	for _, ext := range p.ExternalBook.ExtLst.Ext {
		if ext.BookPr != nil && ext.BookPr.Href != "" {
			return ext.BookPr.Href
		}
	}
	return ""
}

// ExternalRefs builds the index→path table of cross-workbook references
// from the container's externalLink parts. The index n is the trailing
// integer of externalLink<n>.xml and matches the [n] token in formula
// text. Workbooks without external links yield an empty map.
//
// The externalBookPr href is preferred when the producer wrote one;
// otherwise the r:id indirection is followed through the part's
// relationships.
func (e *Engine) ExternalRefs(p string) (map[int]string, error) {
	r, err := archive.Open(e.cachedCopy(p))
	if err != nil {
		return nil, &Error{Kind: KindArchive, Path: p, Err: err}
	}
	defer r.Close()

	refs := make(map[int]string)
	for _, partName := range r.ListParts(externalLinkPrefix) {
		n, ok := linkIndex(partName)
		if !ok {
			continue
		}

		href, err := resolveLink(r, partName)
		if err != nil {
			return nil, &Error{Kind: KindRead, Path: p, Err: err}
		}
		if href != "" {
			refs[n] = href
		}
	}
	return refs, nil
}

func linkIndex(partName string) (int, bool) {
	base := path.Base(partName)
	if !strings.HasPrefix(base, "externalLink") || !strings.HasSuffix(base, ".xml") {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(base, "externalLink"), ".xml"))
	if err != nil {
		return 0, false
	}
	return n, true
}

func resolveLink(r *archive.Reader, partName string) (string, error) {
	data, err := r.ReadPart(partName)
	if err != nil {
		return "", err
	}

	var part externalLinkPart
	if err := xml.Unmarshal(data, &part); err != nil {
		return "", fmt.Errorf("parse %s: %w", partName, err)
	}

	// externalBookPr/@href is preferred; the r:id indirection through
	// the part's relationships covers documents without it.
	if href := part.href(); href != "" {
		return cleanTarget(href), nil
	}
	if part.ExternalBook.RID == "" {
		return "", nil
	}

	rels, err := r.Relationships(partName)
	if err != nil {
		return "", err
	}
	return cleanTarget(rels[part.ExternalBook.RID]), nil
}

// cleanTarget strips the file-URI scheme some producers prepend.
func cleanTarget(target string) string {
	return strings.TrimPrefix(target, "file:///")
}
