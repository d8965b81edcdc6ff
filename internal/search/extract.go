package search

import (
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Elements whose content is page chrome or code, not article text.
var skipped = map[atom.Atom]bool{
	atom.Script:   true,
	atom.Style:    true,
	atom.Noscript: true,
	atom.Nav:      true,
	atom.Header:   true,
	atom.Footer:   true,
	atom.Aside:    true,
	atom.Form:     true,
	atom.Iframe:   true,
	atom.Svg:      true,
	atom.Template: true,
}

// Page is the readable content of an HTML document.
type Page struct {
	Title string
	Text  string
}

// ExtractText parses an HTML document and returns its title and visible
// text with whitespace collapsed to single spaces.
func ExtractText(doc string) (Page, error) {
	root, err := html.Parse(strings.NewReader(doc))
	if err != nil {
		return Page{}, err
	}

	var (
		page Page
		sb   strings.Builder
	)

	var visit func(n *html.Node)
	visit = func(n *html.Node) {
		if n.Type == html.ElementNode {
			if n.DataAtom == atom.Title && page.Title == "" {
				page.Title = nodeText(n)
				return
			}
			if skipped[n.DataAtom] {
				return
			}
		}
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
			sb.WriteByte(' ')
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			visit(c)
		}
	}
	visit(root)

	page.Text = strings.Join(strings.Fields(sb.String()), " ")
	return page, nil
}

// SplitChunks cuts text into chunks of exactly size words. A trailing
// remainder shorter than size is dropped.
func SplitChunks(text string, size int) []string {
	if size <= 0 {
		return nil
	}
	words := strings.Fields(text)
	chunks := make([]string, 0, len(words)/size)
	for i := 0; i+size <= len(words); i += size {
		chunks = append(chunks, strings.Join(words[i:i+size], " "))
	}
	return chunks
}

// TitleRelated reports whether title mentions any query keyword longer than
// three characters. A query without such keywords matches everything.
func TitleRelated(query, title string) bool {
	title = strings.ToLower(title)
	found := false
	for _, w := range strings.Fields(strings.ToLower(query)) {
		w = strings.Trim(w, ".,;:!?\"'()[]")
		if len([]rune(w)) <= 3 {
			continue
		}
		found = true
		if strings.Contains(title, w) {
			return true
		}
	}
	return !found
}
