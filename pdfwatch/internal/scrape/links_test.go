package scrape

import (
	"net/url"
	"testing"
)

func TestExtractLinks_Filter(t *testing.T) {
	// WHAT: Only hrefs ending with ".pdf" (case-sensitive) are kept, resolved against the page.
	// WHY: The selector decides which files are ever downloaded.
	page := `<html><body>
		<a href="a.pdf">First  <b>file</b></a>
		<a href="b.PDF">Upper</a>
		<a href="c.txt">Text</a>
		<a href="/abs/d.pdf">Absolute</a>
		<a href="https://other.example/e.pdf">External</a>
		<a name="nohref">No href</a>
		<a href="f.pdf?download=1">Query</a>
	</body></html>`
	base, _ := url.Parse("https://example.com/exams/dates/")

	links, err := ExtractLinks([]byte(page), base, "pdf")
	if err != nil {
		t.Fatalf("extract: %v", err)
	}

	want := []Link{
		{Href: "a.pdf", URL: "https://example.com/exams/dates/a.pdf", Title: "First file", Filename: "a.pdf"},
		{Href: "/abs/d.pdf", URL: "https://example.com/abs/d.pdf", Title: "Absolute", Filename: "d.pdf"},
		{Href: "https://other.example/e.pdf", URL: "https://other.example/e.pdf", Title: "External", Filename: "e.pdf"},
	}
	if len(links) != len(want) {
		t.Fatalf("got %d links: %+v", len(links), links)
	}
	for i := range want {
		if links[i] != want[i] {
			t.Errorf("link %d: got %+v, want %+v", i, links[i], want[i])
		}
	}
}

func TestExtractLinks_OtherExtension(t *testing.T) {
	// WHAT: The extension is a parameter, not hard-coded.
	// WHY: The same scraper can watch for other file types.
	page := `<a href="x/report.docx">R</a><a href="y.pdf">P</a>`
	base, _ := url.Parse("https://example.com/")
	links, err := ExtractLinks([]byte(page), base, "docx")
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if len(links) != 1 || links[0].Filename != "report.docx" || links[0].URL != "https://example.com/x/report.docx" {
		t.Fatalf("got %+v", links)
	}
}

func TestExtractLinks_Empty(t *testing.T) {
	// WHAT: A page without matching anchors yields no links and no error.
	// WHY: An empty page is a normal state, not a failure.
	base, _ := url.Parse("https://example.com/")
	links, err := ExtractLinks([]byte("<p>nothing here</p>"), base, "pdf")
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if len(links) != 0 {
		t.Fatalf("got %d links", len(links))
	}
}
