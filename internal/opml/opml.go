// Package opml handles importing and exporting the news source list as OPML.
package opml

import (
	"encoding/xml"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/marlowgate-ops/mg-blog-next-sub001/internal/model"
)

// OPML represents the root of an OPML document.
type OPML struct {
	XMLName xml.Name `xml:"opml"`
	Version string   `xml:"version,attr"`
	Head    Head     `xml:"head"`
	Body    Body     `xml:"body"`
}

// Head contains OPML metadata.
type Head struct {
	Title       string `xml:"title,omitempty"`
	DateCreated string `xml:"dateCreated,omitempty"`
}

// Body contains the outlines.
type Body struct {
	Outlines []Outline `xml:"outline"`
}

// Outline represents a single outline element (folder or feed).
type Outline struct {
	Text     string    `xml:"text,attr"`
	Title    string    `xml:"title,attr,omitempty"`
	Type     string    `xml:"type,attr,omitempty"`
	ID       string    `xml:"id,attr,omitempty"`
	XMLURL   string    `xml:"xmlUrl,attr,omitempty"`
	HTMLURL  string    `xml:"htmlUrl,attr,omitempty"`
	Outlines []Outline `xml:"outline,omitempty"`
}

// FeedEntry represents a flattened feed with its folder path.
type FeedEntry struct {
	FolderPath []string // e.g., ["regulator"]
	ID         string
	Title      string
	Type       string
	URL        string
}

// Parse reads an OPML document and returns a flat list of FeedEntry.
func Parse(r io.Reader) ([]FeedEntry, error) {
	var doc OPML
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode opml: %w", err)
	}
	var entries []FeedEntry
	var walk func(outlines []Outline, path []string)
	walk = func(outlines []Outline, path []string) {
		for _, o := range outlines {
			if o.XMLURL != "" {
				// It's a feed.
				title := o.Title
				if title == "" {
					title = o.Text
				}
				entries = append(entries, FeedEntry{
					FolderPath: append([]string{}, path...),
					ID:         o.ID,
					Title:      title,
					Type:       o.Type,
					URL:        o.XMLURL,
				})
			} else if len(o.Outlines) > 0 {
				// It's a folder.
				name := o.Text
				if name == "" {
					name = o.Title
				}
				walk(o.Outlines, append(path, name))
			}
		}
	}
	walk(doc.Body.Outlines, nil)
	return entries, nil
}

// Export generates an OPML document listing sources, one folder per source type.
func Export(title string, sources []model.NewsSource) ([]byte, error) {
	doc := OPML{
		Version: "2.0",
		Head: Head{
			Title:       title,
			DateCreated: time.Now().Format(time.RFC1123Z),
		},
	}

	folders := make(map[string]*Outline)
	var order []string
	for _, s := range sources {
		folder := s.Type
		if folder == "" {
			folder = "rss"
		}
		fo, ok := folders[folder]
		if !ok {
			fo = &Outline{Text: folder, Title: folder}
			folders[folder] = fo
			order = append(order, folder)
		}
		fo.Outlines = append(fo.Outlines, Outline{
			Text:    s.Name,
			Title:   s.Name,
			Type:    "rss",
			ID:      s.ID,
			XMLURL:  s.URL,
			HTMLURL: "https://" + s.Hostname + "/",
		})
	}
	sort.Strings(order)
	for _, name := range order {
		doc.Body.Outlines = append(doc.Body.Outlines, *folders[name])
	}

	output, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, err
	}
	return append([]byte(xml.Header), output...), nil
}
