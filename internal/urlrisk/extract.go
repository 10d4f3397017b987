package urlrisk

import (
	"regexp"
	"strings"

	"golang.org/x/net/html"
)

var urlPattern = regexp.MustCompile(`https?://[^\s/$.?#].[^\s]*`)

// trailing знаки, которые почти всегда принадлежат тексту вокруг ссылки
const trailing = `.,;:!?)]}>'"`

// ExtractURLs достаёт ссылки из текста письма и из href/src, если тело в HTML
func ExtractURLs(body string) []string {
	seen := make(map[string]struct{})
	var out []string
	add := func(u string) {
		u = strings.TrimRight(u, trailing)
		if u == "" {
			return
		}
		if _, ok := seen[u]; ok {
			return
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}

	if looksLikeHTML(body) {
		for _, u := range htmlLinks(body) {
			add(u)
		}
	}
	for _, u := range urlPattern.FindAllString(body, -1) {
		// в HTML регэксп цепляет хвост атрибута
		if i := strings.IndexAny(u, `"'<>`); i >= 0 {
			u = u[:i]
		}
		add(u)
	}
	return out
}

// ExtractAll собирает ссылки из нескольких писем без повторов
func ExtractAll(bodies []string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, body := range bodies {
		for _, u := range ExtractURLs(body) {
			if _, ok := seen[u]; ok {
				continue
			}
			seen[u] = struct{}{}
			out = append(out, u)
		}
	}
	return out
}

func looksLikeHTML(body string) bool {
	low := strings.ToLower(body)
	return strings.Contains(low, "<a ") || strings.Contains(low, "<html") || strings.Contains(low, "href=")
}

func htmlLinks(body string) []string {
	doc, err := html.Parse(strings.NewReader(body))
	if err != nil {
		return nil
	}

	var links []string
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			for _, a := range n.Attr {
				if a.Key != "href" && a.Key != "src" {
					continue
				}
				v := strings.TrimSpace(a.Val)
				low := strings.ToLower(v)
				if strings.HasPrefix(low, "http://") || strings.HasPrefix(low, "https://") {
					links = append(links, v)
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return links
}
