package catalog

import (
	"strings"
)

// Criteria is a predicate evaluated against catalog objects by Search.
type Criteria interface {
	Match(obj *Object) bool
}

type All struct{}

func (All) Match(*Object) bool { return true }

type None struct{}

func (None) Match(*Object) bool { return false }

// ClassDerivedFrom matches objects whose UPnP class equals Class or is
// derived from it ("object.item" matches "object.item.audioItem").
type ClassDerivedFrom struct {
	Class string
}

func (c ClassDerivedFrom) Match(obj *Object) bool {
	class := obj.Kind.Class()
	want := strings.ToLower(strings.TrimSuffix(c.Class, "."))
	class = strings.ToLower(class)
	return class == want || strings.HasPrefix(class, want+".")
}

type ClassIs struct {
	Class string
}

func (c ClassIs) Match(obj *Object) bool {
	return strings.EqualFold(obj.Kind.Class(), c.Class)
}

type KindIs struct {
	Kind Kind
}

func (k KindIs) Match(obj *Object) bool {
	return obj.Kind == k.Kind
}

// TitleContains is a case-insensitive substring match on the title.
type TitleContains struct {
	Substr string
}

func (t TitleContains) Match(obj *Object) bool {
	return containsFold(obj.Title, t.Substr)
}

type Field int

const (
	FieldTitle Field = iota
	FieldArtist
	FieldAlbum
	FieldGenre
)

// FieldValue returns the value of a searchable field, or false when the
// object does not carry it.
func FieldValue(obj *Object, f Field) (string, bool) {
	if f == FieldTitle {
		return obj.Title, true
	}
	if obj.Audio == nil {
		return "", false
	}
	var v string
	switch f {
	case FieldArtist:
		v = obj.Audio.Tags.Artist
	case FieldAlbum:
		v = obj.Audio.Tags.Album
	case FieldGenre:
		v = obj.Audio.Tags.Genre
	}
	return v, v != ""
}

type FieldContains struct {
	Field  Field
	Substr string
}

func (f FieldContains) Match(obj *Object) bool {
	v, ok := FieldValue(obj, f.Field)
	return ok && containsFold(v, f.Substr)
}

type FieldEquals struct {
	Field Field
	Value string
}

func (f FieldEquals) Match(obj *Object) bool {
	v, ok := FieldValue(obj, f.Field)
	return ok && strings.EqualFold(v, f.Value)
}

type FieldExists struct {
	Field Field
}

func (f FieldExists) Match(obj *Object) bool {
	_, ok := FieldValue(obj, f.Field)
	return ok
}

type Not struct {
	Term Criteria
}

func (n Not) Match(obj *Object) bool {
	return !n.Term.Match(obj)
}

type And []Criteria

func (a And) Match(obj *Object) bool {
	for _, c := range a {
		if !c.Match(obj) {
			return false
		}
	}
	return true
}

type Or []Criteria

func (o Or) Match(obj *Object) bool {
	for _, c := range o {
		if c.Match(obj) {
			return true
		}
	}
	return false
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
