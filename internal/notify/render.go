package notify

import (
	"fmt"
	"html"
	"net/url"
	"strings"
	"time"

	"github.com/tdewolff/minify/v2"
	minhtml "github.com/tdewolff/minify/v2/html"

	"bcpea_notifier/internal/model"
)

const kaisMapURL = "https://kais.cadastre.bg/bg/Map"

var minifier = newMinifier()

func newMinifier() *minify.M {
	m := minify.New()
	m.AddFunc("text/html", minhtml.Minify)
	return m
}

// RenderHTML builds the summary email body for one subscriber.
func RenderHTML(groups []model.GroupReport, generated time.Time) string {
	var b strings.Builder

	b.WriteString("<!DOCTYPE html>\n<html>\n<head>\n<meta charset=\"utf-8\">\n<style>\n")
	b.WriteString(".filter-group { border: 1px solid #ddd; border-radius: 8px; margin-bottom: 1.5rem; padding: 1rem; }\n")
	b.WriteString(".group-header { border-bottom: 2px solid #eee; padding-bottom: 0.5rem; margin-bottom: 1rem; }\n")
	b.WriteString(".count-badge { background: #007bff; color: white; padding: 0.25rem 0.75rem; border-radius: 20px; font-size: 0.9em; display: inline-block; }\n")
	b.WriteString(".listing-card { background: #f8f9fa; border-radius: 8px; padding: 1rem; margin-bottom: 1rem; }\n")
	b.WriteString(".listing-image { max-width: 100%; height: auto; border-radius: 4px; }\n")
	b.WriteString(".listing-fields li { margin-bottom: 0.5rem; padding: 0.5rem; background: white; border-radius: 4px; list-style: none; }\n")
	b.WriteString(".button { background: #007bff; color: white; padding: 0.375rem 0.75rem; border-radius: 4px; text-decoration: none; }\n")
	b.WriteString("</style>\n</head>\n<body>\n")
	b.WriteString("<h2 style=\"color: #2c3e50; border-bottom: 2px solid #eee; padding-bottom: 0.5rem;\">Listings Summary</h2>\n")

	for _, g := range groups {
		writeGroup(&b, g)
	}

	fmt.Fprintf(&b, "<footer style=\"margin-top: 2rem; color: #7f8c8d; text-align: center;\">Generated by BCPEA Notifier &bull; %s</footer>\n",
		generated.Format("2006-01-02 15:04"))
	b.WriteString("</body>\n</html>\n")

	out, err := minifier.String("text/html", b.String())
	if err != nil {
		return b.String()
	}
	return out
}

func writeGroup(b *strings.Builder, g model.GroupReport) {
	b.WriteString("<div class=\"filter-group\">\n<div class=\"group-header\">\n")
	fmt.Fprintf(b, "<h3>%s &ndash; %s (Filter Group %d)</h3>\n", escape(g.Region), escape(g.Category.Label()), g.GroupID)
	fmt.Fprintf(b, "<p class=\"count-badge\">%d %s found</p>\n", g.Count, strings.ToLower(g.Category.Label()))
	b.WriteString("</div>\n<div class=\"listings\">\n")
	for _, l := range g.Listings {
		writeListing(b, l)
	}
	b.WriteString("</div>\n</div>\n")
}

func writeListing(b *strings.Builder, l model.Listing) {
	b.WriteString("<div class=\"listing-card\">\n")
	if l.ImageURL != "" {
		fmt.Fprintf(b, "<a href=\"%s\"><img src=\"%s\" class=\"listing-image\" alt=\"%s\"></a>\n",
			escape(l.URL), escape(l.ImageURL), escape(l.Title))
	}
	b.WriteString("<ul class=\"listing-fields\">\n")
	fmt.Fprintf(b, "<li>Type: <a href=\"%s\">%s</a></li>\n", escape(l.URL), escape(l.Title))
	fmt.Fprintf(b, "<li>Location: %s</li>\n", escape(l.Settlement))
	if l.Address != "" {
		fmt.Fprintf(b, "<li>Address: <a href=\"https://maps.google.com/?q=%s\">%s</a></li>\n",
			url.QueryEscape(l.Address), escape(l.Address))
	}
	fmt.Fprintf(b, "<li>Area: %s</li>\n", escape(l.Area))
	fmt.Fprintf(b, "<li>Price: %s</li>\n", escape(l.Price))
	if l.Category == model.CategoryProperty {
		kais := l.KaisID
		if kais == "" {
			kais = "Not found"
		}
		fmt.Fprintf(b, "<li>KaisCadastre ID: %s</li>\n", escape(kais))
	}
	b.WriteString("</ul>\n")
	if l.Category == model.CategoryProperty {
		fmt.Fprintf(b, "<p><a href=\"%s\" class=\"button\">Open KaisCadastre</a></p>\n", kaisMapURL)
	}
	b.WriteString("</div>\n")
}

func escape(s string) string {
	return html.EscapeString(s)
}
