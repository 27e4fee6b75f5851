package news

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/google/uuid"
	"golang.org/x/text/unicode/norm"
)

// ItemID derives a stable id from the source id and the item link.
func ItemID(sourceID, link string) string {
	return sourceID + "-" + uuid.NewSHA1(uuid.NameSpaceURL, []byte(link)).String()
}

// CleanTitle strips markup and entities, applies NFKC and collapses whitespace.
// Full-width ASCII in Japanese feeds becomes half-width.
func CleanTitle(raw string) string {
	text := raw
	if strings.ContainsAny(raw, "<&") {
		if doc, err := goquery.NewDocumentFromReader(strings.NewReader(raw)); err == nil {
			text = doc.Text()
		}
	}
	return strings.Join(strings.Fields(norm.NFKC.String(text)), " ")
}

// CanonicalURL is the dedupe key of a link: scheme and host lowercased,
// fragment and utm_* tracking parameters removed. Unparseable links are only trimmed.
func CanonicalURL(raw string) string {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return raw
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	u.RawFragment = ""
	if u.RawQuery != "" {
		q := u.Query()
		for k := range q {
			if strings.HasPrefix(strings.ToLower(k), "utm_") {
				q.Del(k)
			}
		}
		u.RawQuery = q.Encode()
	}
	return u.String()
}
