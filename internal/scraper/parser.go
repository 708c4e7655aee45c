// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package scraper

import (
	"bytes"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"github.com/autobrr/abbot/internal/domain"
)

const (
	defaultCoverFilename = "default_cover.jpg"
	unknownTitle         = "Unknown Title"
	noDescription        = "No description available."
)

var (
	reLanguage = regexp.MustCompile(`(?i)Language:\s*(\S+)`)
	reCategory = regexp.MustCompile(`Category:\s*(.+?)(?:\s+Language:|$)`)

	reLabelPosted  = regexp.MustCompile(`(?i)Posted:`)
	reLabelFormat  = regexp.MustCompile(`(?i)Format:`)
	reLabelBitrate = regexp.MustCompile(`(?i)Bitrate:`)
	reLabelSize    = regexp.MustCompile(`(?i)File\s*Size:`)

	reInfoHashLabel = regexp.MustCompile(`(?i)Info Hash`)
	reHashString    = regexp.MustCompile(`\b([a-fA-F0-9]{40}|[a-fA-F0-9]{64})\b`)
	reHashExact     = regexp.MustCompile(`^(?:[a-fA-F0-9]{40}|[a-fA-F0-9]{64})$`)
)

// metadata is the set of fields shared by listing rows and detail pages.
type metadata struct {
	language   string
	categories []string
	postDate   string
	format     string
	bitrate    string
	fileSize   string
}

// ParseListingPage extracts every result row from one search page. Rows without a title
// link are skipped. A page whose rows are all unreadable returns ErrParseFailure, a page
// with no rows returns an empty slice.
func ParseListingPage(body []byte, baseURL string) ([]domain.BookSummary, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParseFailure, err)
	}

	base, _ := url.Parse(baseURL)

	posts := doc.Find(".post")
	results := make([]domain.BookSummary, 0, posts.Length())

	posts.Each(func(_ int, post *goquery.Selection) {
		a := post.Find(".postTitle > h2 > a").First()
		href, ok := a.Attr("href")
		if !ok || strings.TrimSpace(href) == "" {
			return
		}

		link := relativeLink(base, href)
		if link == "" {
			return
		}

		title := strings.TrimSpace(a.Text())
		if title == "" {
			title = unknownTitle
		}

		cover := ""
		if src, ok := post.Find(".postContent img").First().Attr("src"); ok {
			cover = normalizeCoverURL(base, src)
		}

		meta := parsePostContent(post.Find(".postContent").First(), post.Find(".postInfo").First())

		results = append(results, domain.BookSummary{
			Title:       title,
			CoverURL:    cover,
			Categories:  meta.categories,
			Language:    meta.language,
			Bitrate:     meta.bitrate,
			Format:      meta.format,
			FileSize:    meta.fileSize,
			PostDate:    meta.postDate,
			DetailsLink: link,
		})
	})

	if posts.Length() > 0 && len(results) == 0 {
		return nil, fmt.Errorf("%w: %d posts without a title link", ErrParseFailure, posts.Length())
	}

	return results, nil
}

// ParseDetailPage extracts a single book page. Missing fields become domain.Unknown,
// a missing info hash included.
func ParseDetailPage(body []byte, pageURL string) (domain.BookDetails, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return domain.BookDetails{}, fmt.Errorf("%w: %v", ErrParseFailure, err)
	}

	base, _ := url.Parse(pageURL)

	d := domain.BookDetails{}

	d.Title = unknownTitle
	if t := strings.TrimSpace(doc.Find(".postTitle h1").First().Text()); t != "" {
		d.Title = t
	}
	d.RawTitle = d.Title

	if src, ok := doc.Find(`.postContent img[itemprop="image"]`).First().Attr("src"); ok {
		d.CoverURL = normalizeCoverURL(base, src)
	}

	meta := parsePostContent(doc.Find(".postContent").First(), doc.Find(".postInfo").First())
	d.Categories = meta.categories
	d.Language = meta.language
	d.PostDate = meta.postDate
	d.Format = meta.format
	d.Bitrate = meta.bitrate
	d.FileSize = meta.fileSize

	d.Author = normalizeValue(doc.Find(`span.author[itemprop="author"]`).First().Text())
	d.Narrator = normalizeValue(doc.Find(`span.narrator[itemprop="author"]`).First().Text())

	d.Description = noDescription
	if desc := doc.Find("div.desc").First(); desc.Length() > 0 {
		if h := sanitizeDescription(desc); strings.TrimSpace(h) != "" {
			d.Description = h
		}
	}

	d.Trackers = []string{}
	d.InfoHash = domain.Unknown

	doc.Find("table.torrent_info tr").Each(func(_ int, row *goquery.Selection) {
		cells := row.Find("td")
		if cells.Length() < 2 {
			return
		}
		label := strings.TrimSpace(cells.Eq(0).Text())
		value := normalizeValue(cells.Eq(1).Text())

		switch {
		case strings.Contains(label, "Tracker:") || strings.Contains(label, "Announce URL:"):
			if value != domain.Unknown {
				d.Trackers = append(d.Trackers, value)
			}
		case strings.Contains(label, "File Size:"):
			if d.FileSize == domain.Unknown {
				d.FileSize = value
			}
		case strings.Contains(label, "Info Hash:"):
			if reHashExact.MatchString(value) {
				d.InfoHash = value
			}
		}
	})

	if !d.HasInfoHash() {
		doc.Find("td").EachWithBreak(func(_ int, td *goquery.Selection) bool {
			if !reInfoHashLabel.MatchString(td.Text()) {
				return true
			}
			v := strings.TrimSpace(td.NextAllFiltered("td").First().Text())
			if reHashExact.MatchString(v) {
				d.InfoHash = v
				return false
			}
			return true
		})
	}

	if !d.HasInfoHash() {
		if m := reHashString.FindSubmatch(body); m != nil {
			d.InfoHash = string(m[1])
		}
	}

	if base != nil {
		d.DetailsLink = base.RequestURI()
	}

	return d, nil
}

func parsePostContent(content, info *goquery.Selection) metadata {
	m := metadata{}

	if info.Length() > 0 {
		text := joinedText(info)
		if match := reLanguage.FindStringSubmatch(text); match != nil {
			m.language = match[1]
		}
		if match := reCategory.FindStringSubmatch(text); match != nil {
			m.categories = SplitCategories(match[1])
		}
	}

	if content.Length() > 0 {
		content.Find("p").Each(func(_ int, p *goquery.Selection) {
			text := p.Text()
			node := p.Get(0)
			if reLabelPosted.MatchString(text) {
				m.postDate = textAfterLabel(node, reLabelPosted, false)
			}
			if reLabelFormat.MatchString(text) {
				m.format = textAfterLabel(node, reLabelFormat, false)
			}
			if reLabelBitrate.MatchString(text) {
				m.bitrate = textAfterLabel(node, reLabelBitrate, false)
			}
			if reLabelSize.MatchString(text) {
				m.fileSize = textAfterLabel(node, reLabelSize, true)
			}
		})
	}

	m.language = normalizeValue(m.language)
	m.postDate = normalizeValue(m.postDate)
	m.format = normalizeValue(m.format)
	m.bitrate = normalizeValue(m.bitrate)
	m.fileSize = normalizeValue(m.fileSize)
	if m.categories == nil {
		m.categories = []string{}
	}

	return m
}

// SplitCategories turns "Fiction|Science, Sci-Fi" into individual tags. Empty and
// unknown markers are dropped, so "Unknown" yields an empty set.
func SplitCategories(raw string) []string {
	parts := strings.FieldsFunc(raw, func(r rune) bool { return r == ',' || r == '|' })
	tags := make([]string, 0, len(parts))
	seen := make(map[string]struct{}, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" || p == "?" || strings.EqualFold(p, domain.Unknown) {
			continue
		}
		key := strings.ToLower(p)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		tags = append(tags, p)
	}
	return tags
}

func normalizeValue(v string) string {
	v = strings.TrimSpace(v)
	if v == "" || v == "?" {
		return domain.Unknown
	}
	return v
}

// textAfterLabel finds the first text node matching label and reads its value from the
// next sibling span, or from the remainder of the text node itself.
func textAfterLabel(container *html.Node, label *regexp.Regexp, fileSize bool) string {
	node := findText(container, label)
	if node == nil {
		return ""
	}

	next := node.NextSibling
	for next != nil && next.Type != html.ElementNode {
		next = next.NextSibling
	}

	if next != nil && next.Data == "span" {
		val := strings.TrimSpace(nodeText(next))
		if fileSize && next.NextSibling != nil && next.NextSibling.Type == html.TextNode {
			if unit := strings.TrimSpace(next.NextSibling.Data); unit != "" {
				val += " " + unit
			}
		}
		return val
	}

	loc := label.FindStringIndex(node.Data)
	return strings.TrimSpace(node.Data[loc[1]:])
}

func findText(n *html.Node, re *regexp.Regexp) *html.Node {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.TextNode && re.MatchString(c.Data) {
			return c
		}
		if c.Type == html.ElementNode {
			if found := findText(c, re); found != nil {
				return found
			}
		}
	}
	return nil
}

func nodeText(n *html.Node) string {
	if n.Type == html.TextNode {
		return n.Data
	}
	var sb strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		sb.WriteString(nodeText(c))
	}
	return sb.String()
}

// joinedText returns every text node under s, trimmed and joined by single spaces.
func joinedText(s *goquery.Selection) string {
	var parts []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			if t := strings.TrimSpace(n.Data); t != "" {
				parts = append(parts, t)
			}
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	for _, n := range s.Nodes {
		walk(n)
	}
	return strings.Join(parts, " ")
}

// relativeLink reduces an href to path and query so the details page can be fetched
// through whichever mirror is current.
func relativeLink(base *url.URL, href string) string {
	u, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return ""
	}
	if base != nil {
		u = base.ResolveReference(u)
	}
	if u.Path == "" {
		return ""
	}
	return u.RequestURI()
}

func normalizeCoverURL(base *url.URL, src string) string {
	src = strings.TrimSpace(src)
	if src == "" {
		return ""
	}
	u, err := url.Parse(src)
	if err != nil {
		return ""
	}
	if base != nil {
		u = base.ResolveReference(u)
	}
	out := u.String()
	if strings.HasSuffix(out, defaultCoverFilename) {
		return ""
	}
	return out
}
