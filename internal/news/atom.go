package news

import (
	"time"

	"github.com/gorilla/feeds"

	"github.com/marlowgate-ops/mg-blog-next-sub001/internal/model"
)

// AtomFeed describes the re-published feed.
type AtomFeed struct {
	Title   string
	Link    string
	Updated time.Time
}

// ToAtom renders page as an Atom document.
func (f AtomFeed) ToAtom(page model.NewsPage) (string, error) {
	feed := &feeds.Feed{
		Title:   f.Title,
		Link:    &feeds.Link{Href: f.Link},
		Id:      f.Link,
		Updated: f.Updated,
	}
	for _, it := range page.Items {
		feed.Items = append(feed.Items, &feeds.Item{
			Id:      it.ID,
			Title:   it.Title,
			Link:    &feeds.Link{Href: it.URL},
			Author:  &feeds.Author{Name: it.Source},
			Created: it.PublishedAt,
			Updated: it.PublishedAt,
		})
	}
	return feed.ToAtom()
}
