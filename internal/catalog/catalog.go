package catalog

import (
	"errors"
	"time"
)

var (
	ErrNotFound     = errors.New("object not found")
	ErrNotContainer = errors.New("object is not a container")
)

// Catalog is an immutable object tree. It is safe for concurrent reads.
type Catalog struct {
	objects map[string]*Object
	builtAt time.Time
}

// Empty returns a catalog holding only the root container.
func Empty(rootTitle string) *Catalog {
	c, _ := NewBuilder(rootTitle).Build()
	return c
}

func (c *Catalog) Root() *Object {
	return c.objects[RootID]
}

func (c *Catalog) Len() int {
	return len(c.objects)
}

func (c *Catalog) BuiltAt() time.Time {
	return c.builtAt
}

func (c *Catalog) Lookup(id string) (*Object, error) {
	obj, ok := c.objects[id]
	if !ok {
		return nil, ErrNotFound
	}
	return obj, nil
}

// ListChildren returns one page of a container's children in insertion
// order. A count of zero requests every child from start onwards.
func (c *Catalog) ListChildren(containerID string, start, count int) ([]*Object, int, error) {
	parent, err := c.container(containerID)
	if err != nil {
		return nil, 0, err
	}

	ids := parent.Container.Children
	total := len(ids)
	lo, hi := window(total, start, count)

	items := make([]*Object, 0, hi-lo)
	for _, id := range ids[lo:hi] {
		items = append(items, c.objects[id])
	}
	return items, total, nil
}

// Search walks the subtree under containerID depth-first (pre-order, the
// container itself excluded) and returns one page of the matching objects.
func (c *Catalog) Search(containerID string, criteria Criteria, start, count int) ([]*Object, int, error) {
	parent, err := c.container(containerID)
	if err != nil {
		return nil, 0, err
	}
	if criteria == nil {
		criteria = All{}
	}

	var matches []*Object
	c.walk(parent, func(obj *Object) {
		if criteria.Match(obj) {
			matches = append(matches, obj)
		}
	})

	total := len(matches)
	lo, hi := window(total, start, count)
	page := make([]*Object, hi-lo)
	copy(page, matches[lo:hi])
	return page, total, nil
}

func (c *Catalog) walk(parent *Object, fn func(*Object)) {
	for _, id := range parent.Container.Children {
		child := c.objects[id]
		fn(child)
		if child.IsContainer() {
			c.walk(child, fn)
		}
	}
}

func (c *Catalog) container(id string) (*Object, error) {
	obj, ok := c.objects[id]
	if !ok {
		return nil, ErrNotFound
	}
	if !obj.IsContainer() {
		return nil, ErrNotContainer
	}
	return obj, nil
}

func window(total, start, count int) (int, int) {
	if start < 0 {
		start = 0
	}
	if start >= total {
		return total, total
	}
	end := total
	if count > 0 && start+count < total {
		end = start + count
	}
	return start, end
}
