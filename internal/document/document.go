// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package document holds a server side copy of a viewer's document. The
// viewer describes its document and every change to it; the document
// applies the changes and records them as mutation records, which are
// consumed in batches.
package document

import (
	"strings"

	"github.com/juju/errors"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// KeyAttr is the attribute through which the viewer and the server refer
// to an element.
const KeyAttr = "data-key"

// RecordKind distinguishes added from removed subtrees.
type RecordKind int

const (
	Added RecordKind = iota
	Removed
)

// String implements fmt.Stringer.
func (k RecordKind) String() string {
	if k == Added {
		return "added"
	}
	return "removed"
}

// Record describes one subtree that was added to or removed from the
// document.
type Record struct {
	Kind RecordKind
	Node *html.Node
}

// Document is a mutable HTML document. It is not safe for concurrent use.
type Document struct {
	root    *html.Node
	index   map[string]*html.Node
	pending []Record
}

// New returns an empty document.
func New() *Document {
	d, err := Parse("")
	if err != nil {
		// Parsing the empty string cannot fail.
		panic(err)
	}
	return d
}

// Parse returns a document parsed from src. No records are produced.
func Parse(src string) (*Document, error) {
	root, err := html.Parse(strings.NewReader(src))
	if err != nil {
		return nil, errors.Annotate(err, "parsing document")
	}
	d := &Document{
		root:  root,
		index: make(map[string]*html.Node),
	}
	d.indexSubtree(root)
	return d, nil
}

// Root returns the document node.
func (d *Document) Root() *html.Node {
	return d.root
}

// Body returns the body element, or the document node if there is none.
func (d *Document) Body() *html.Node {
	var body *html.Node
	Walk(d.root, func(n *html.Node) bool {
		if body != nil {
			return false
		}
		if n.Type == html.ElementNode && n.DataAtom == atom.Body {
			body = n
			return false
		}
		return true
	})
	if body == nil {
		return d.root
	}
	return body
}

// Lookup returns the attached element with the given key.
func (d *Document) Lookup(key string) (*html.Node, bool) {
	n, ok := d.index[key]
	return n, ok
}

// Contains reports whether n is currently part of the document.
func (d *Document) Contains(n *html.Node) bool {
	for ; n != nil; n = n.Parent {
		if n == d.root {
			return true
		}
	}
	return false
}

// Load replaces the whole document with the one parsed from src. The old
// tree is recorded as removed and the new one as added.
func (d *Document) Load(src string) error {
	root, err := html.Parse(strings.NewReader(src))
	if err != nil {
		return errors.Annotate(err, "parsing document")
	}
	old := d.root
	d.root = root
	d.index = make(map[string]*html.Node)
	d.indexSubtree(root)

	d.pending = append(d.pending,
		Record{Kind: Removed, Node: old},
		Record{Kind: Added, Node: root},
	)
	return nil
}

// Insert parses fragment in the context of the element keyed parentKey and
// inserts the resulting nodes before the child keyed beforeKey, or at the
// end when beforeKey is empty. Each inserted top level node is recorded.
func (d *Document) Insert(parentKey, beforeKey, fragment string) error {
	parent, ok := d.Lookup(parentKey)
	if !ok {
		return errors.NotFoundf("parent %q", parentKey)
	}
	var before *html.Node
	if beforeKey != "" {
		if before, ok = d.Lookup(beforeKey); !ok {
			return errors.NotFoundf("sibling %q", beforeKey)
		}
		if before.Parent != parent {
			return errors.NotValidf("sibling %q outside parent %q", beforeKey, parentKey)
		}
	}
	nodes, err := html.ParseFragment(strings.NewReader(fragment), &html.Node{
		Type:      html.ElementNode,
		Data:      parent.Data,
		DataAtom:  parent.DataAtom,
		Namespace: parent.Namespace,
	})
	if err != nil {
		return errors.Annotate(err, "parsing fragment")
	}
	for _, n := range nodes {
		if before != nil {
			parent.InsertBefore(n, before)
		} else {
			parent.AppendChild(n)
		}
		d.indexSubtree(n)
		d.pending = append(d.pending, Record{Kind: Added, Node: n})
	}
	return nil
}

// Remove detaches the element keyed key, with its subtree.
func (d *Document) Remove(key string) error {
	n, ok := d.Lookup(key)
	if !ok {
		return errors.NotFoundf("element %q", key)
	}
	if n.Parent == nil {
		return errors.NotValidf("removing the document node")
	}
	n.Parent.RemoveChild(n)
	d.unindexSubtree(n)
	d.pending = append(d.pending, Record{Kind: Removed, Node: n})
	return nil
}

// TakeRecords returns the records accumulated since the last call.
func (d *Document) TakeRecords() []Record {
	records := d.pending
	d.pending = nil
	return records
}

// Render returns the document serialised as HTML.
func (d *Document) Render() (string, error) {
	var sb strings.Builder
	if err := html.Render(&sb, d.root); err != nil {
		return "", errors.Trace(err)
	}
	return sb.String(), nil
}

func (d *Document) indexSubtree(root *html.Node) {
	Walk(root, func(n *html.Node) bool {
		if key, ok := Attr(n, KeyAttr); ok && key != "" {
			d.index[key] = n
		}
		return true
	})
}

func (d *Document) unindexSubtree(root *html.Node) {
	Walk(root, func(n *html.Node) bool {
		if key, ok := Attr(n, KeyAttr); ok && d.index[key] == n {
			delete(d.index, key)
		}
		return true
	})
}
