package catalog

import (
	"fmt"
	"time"
)

// Builder assembles a Catalog. Parents must be added before their
// children; Build validates the resulting tree.
type Builder struct {
	objects map[string]*Object
}

func NewBuilder(rootTitle string) *Builder {
	root := &Object{
		ID:        RootID,
		ParentID:  RootParentID,
		Title:     rootTitle,
		Kind:      KindContainer,
		Container: &Container{},
	}
	return &Builder{
		objects: map[string]*Object{RootID: root},
	}
}

func (b *Builder) AddContainer(parentID, id, title string, modifiedAt time.Time, artPath string) error {
	return b.add(parentID, &Object{
		ID:         id,
		ParentID:   parentID,
		Title:      title,
		Kind:       KindContainer,
		ModifiedAt: modifiedAt,
		Container:  &Container{ArtPath: artPath},
	})
}

func (b *Builder) AddItem(parentID, id, title string, modifiedAt time.Time, item AudioItem) error {
	if len(item.Source.Tracks) == 0 {
		return fmt.Errorf("item %s: no audio tracks", id)
	}
	if item.DefaultTrack < 0 || item.DefaultTrack >= len(item.Source.Tracks) {
		return fmt.Errorf("item %s: default track %d out of range", id, item.DefaultTrack)
	}
	return b.add(parentID, &Object{
		ID:         id,
		ParentID:   parentID,
		Title:      title,
		Kind:       KindAudioItem,
		ModifiedAt: modifiedAt,
		Audio:      &item,
	})
}

func (b *Builder) add(parentID string, obj *Object) error {
	if obj.ID == "" {
		return fmt.Errorf("empty object id")
	}
	if _, exists := b.objects[obj.ID]; exists {
		return fmt.Errorf("duplicate object id %s", obj.ID)
	}
	parent, ok := b.objects[parentID]
	if !ok {
		return fmt.Errorf("object %s: parent %s: %w", obj.ID, parentID, ErrNotFound)
	}
	if !parent.IsContainer() {
		return fmt.Errorf("object %s: parent %s: %w", obj.ID, parentID, ErrNotContainer)
	}

	b.objects[obj.ID] = obj
	parent.Container.Children = append(parent.Container.Children, obj.ID)
	return nil
}

// Build validates the tree and freezes it into a Catalog. The builder must
// not be used afterwards.
func (b *Builder) Build() (*Catalog, error) {
	if err := validate(b.objects); err != nil {
		return nil, err
	}
	c := &Catalog{
		objects: b.objects,
		builtAt: time.Now(),
	}
	b.objects = nil
	return c, nil
}

// validate checks that every object is reachable from the root exactly
// once and that parent references agree with the child lists.
func validate(objects map[string]*Object) error {
	root, ok := objects[RootID]
	if !ok || !root.IsContainer() {
		return fmt.Errorf("missing root container")
	}

	seen := make(map[string]bool, len(objects))
	seen[RootID] = true

	stack := []*Object{root}
	for len(stack) > 0 {
		parent := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		for _, id := range parent.Container.Children {
			child, ok := objects[id]
			if !ok {
				return fmt.Errorf("container %s lists unknown child %s", parent.ID, id)
			}
			if seen[id] {
				return fmt.Errorf("object %s reachable more than once", id)
			}
			if child.ParentID != parent.ID {
				return fmt.Errorf("object %s: parent is %s, listed under %s", id, child.ParentID, parent.ID)
			}
			seen[id] = true
			if child.IsContainer() {
				stack = append(stack, child)
			}
		}
	}

	if len(seen) != len(objects) {
		return fmt.Errorf("%d objects unreachable from root", len(objects)-len(seen))
	}
	return nil
}
