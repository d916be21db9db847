package fetcher

import (
	"io"
	"net/url"
	"path"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"bcpea_notifier/internal/model"
)

const (
	kaisMarker    = "идентификатор"
	kaisScanRunes = 30
)

func parseListings(r io.Reader, base *url.URL, cat model.Category) ([]model.Listing, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, err
	}

	var listings []model.Listing
	doc.Find("div.item__group").Each(func(_ int, s *goquery.Selection) {
		info := s.Find("div.info")
		l := model.Listing{
			Category:   cat,
			Title:      text(s.Find("div.title")),
			Settlement: text(info.Eq(0)),
			Area:       text(s.Find("div.category")),
			Price:      text(s.Find("div.price")),
		}
		if cat == model.CategoryProperty {
			l.Address = text(info.Eq(1))
		}
		if href, ok := s.Find("a[href]").First().Attr("href"); ok {
			l.URL = resolve(base, href)
			l.Number = path.Base(strings.TrimSuffix(strings.SplitN(href, "?", 2)[0], "/"))
		}
		if src, ok := s.Find("img[src]").First().Attr("src"); ok {
			l.ImageURL = resolve(base, src)
		}
		listings = append(listings, l)
	})
	return listings, nil
}

func parseDescription(r io.Reader) (string, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return "", err
	}

	block := doc.Find("div.label__group.label__group-description").First()
	if block.Length() == 0 {
		return "", nil
	}

	var parts []string
	block.Find("p").Each(func(_ int, p *goquery.Selection) {
		if t := text(p); t != "" {
			parts = append(parts, t)
		}
	})
	return strings.Join(parts, " "), nil
}

// ExtractKaisID returns the cadastral identifier that follows the "идентификатор" marker:
// every digit and dot among the first 30 characters after the marker, in order.
// A marker followed by no digits in that window counts as absent.
func ExtractKaisID(description string) (id string, ok bool) {
	_, after, found := strings.Cut(description, kaisMarker)
	if !found {
		return "", false
	}

	runes := []rune(after)
	if len(runes) > kaisScanRunes {
		runes = runes[:kaisScanRunes]
	}

	var (
		b      strings.Builder
		digits bool
	)
	for _, r := range runes {
		switch {
		case r >= '0' && r <= '9':
			digits = true
			b.WriteRune(r)
		case r == '.':
			b.WriteRune(r)
		}
	}
	if !digits {
		return "", false
	}
	return b.String(), true
}

func text(s *goquery.Selection) string {
	return strings.Join(strings.Fields(s.Text()), " ")
}

func resolve(base *url.URL, ref string) string {
	u, err := url.Parse(strings.TrimSpace(ref))
	if err != nil {
		return ref
	}
	return base.ResolveReference(u).String()
}
