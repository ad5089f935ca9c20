// Package dom models the slice of the document the auto-instrumentation
// observer can see. The page itself is an external collaborator; it
// feeds element snapshots into the pipeline, it is never owned by it.
package dom

// Element is a node in the observed tree. Text is the rendered text of
// the element's subtree, as the user sees it.
type Element struct {
	Tag      string
	Attrs    map[string]string
	Text     string
	Disabled bool
	Parent   *Element
	Children []*Element
}

// Attr returns the attribute value, or "" when absent.
func (e *Element) Attr(name string) string {
	if e == nil || e.Attrs == nil {
		return ""
	}
	return e.Attrs[name]
}

// HasAttr reports whether the attribute is present, even if empty.
func (e *Element) HasAttr(name string) bool {
	if e == nil || e.Attrs == nil {
		return false
	}
	_, ok := e.Attrs[name]
	return ok
}

// Closest walks from the element up through its ancestors and returns
// the first one with the given tag, or nil.
func (e *Element) Closest(tag string) *Element {
	for cur := e; cur != nil; cur = cur.Parent {
		if cur.Tag == tag {
			return cur
		}
	}
	return nil
}

// ClosestWithAttr walks from the element up through its ancestors and
// returns the first one carrying the attribute, or nil.
func (e *Element) ClosestWithAttr(name string) *Element {
	for cur := e; cur != nil; cur = cur.Parent {
		if cur.HasAttr(name) {
			return cur
		}
	}
	return nil
}

// Link connects children to their parent, returning the root. Convenience
// for building test trees and for decoding wire payloads.
func Link(root *Element) *Element {
	var walk func(e *Element)
	walk = func(e *Element) {
		for _, child := range e.Children {
			child.Parent = e
			walk(child)
		}
	}
	if root != nil {
		walk(root)
	}
	return root
}
