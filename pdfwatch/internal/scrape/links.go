package scrape

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Link is an anchor whose href ends with the wanted extension.
type Link struct {
	Href     string // raw attribute value
	URL      string // Href resolved against the page URL
	Title    string // anchor text, whitespace collapsed
	Filename string // last "/" segment of Href
}

// ExtractLinks returns, in document order, the anchors of body whose href
// ends with "."+ext. The match is case-sensitive. Hrefs that cannot be
// resolved against base are skipped.
func ExtractLinks(body []byte, base *url.URL, ext string) ([]Link, error) {
	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	suffix := "." + ext
	var links []Link
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.DataAtom == atom.A {
			if href, ok := attr(n, "href"); ok && strings.HasSuffix(href, suffix) {
				if ref, err := url.Parse(href); err == nil {
					links = append(links, Link{
						Href:     href,
						URL:      base.ResolveReference(ref).String(),
						Title:    collapseSpace(textContent(n)),
						Filename: href[strings.LastIndex(href, "/")+1:],
					})
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return links, nil
}

func attr(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

func textContent(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
