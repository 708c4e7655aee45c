// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package scraper

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

var allowedDescriptionTags = map[string]struct{}{
	"p": {}, "br": {}, "b": {}, "i": {}, "em": {}, "strong": {}, "ul": {}, "li": {},
}

// dropped entirely, content included
var strippedDescriptionTags = map[string]struct{}{
	"script": {}, "style": {}, "iframe": {}, "object": {}, "noscript": {}, "template": {},
}

// sanitizeDescription keeps a small set of formatting tags without attributes and unwraps
// everything else, returning the inner HTML.
func sanitizeDescription(s *goquery.Selection) string {
	for _, n := range s.Nodes {
		sanitizeChildren(n)
	}
	h, err := s.First().Html()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(h)
}

func sanitizeChildren(n *html.Node) {
	c := n.FirstChild
	for c != nil {
		next := c.NextSibling

		switch c.Type {
		case html.ElementNode:
			if _, drop := strippedDescriptionTags[c.Data]; drop {
				n.RemoveChild(c)
				break
			}

			sanitizeChildren(c)

			if _, ok := allowedDescriptionTags[c.Data]; ok {
				c.Attr = nil
				break
			}

			// unwrap: hoist children in place of the element
			for gc := c.FirstChild; gc != nil; gc = c.FirstChild {
				c.RemoveChild(gc)
				n.InsertBefore(gc, c)
			}
			n.RemoveChild(c)
		case html.CommentNode:
			n.RemoveChild(c)
		}

		c = next
	}
}
