package codec

import (
	"sort"
	"strings"
)

// Paths is a set of dot separated association paths such as
// "comments.author". Each level maps a field name to the paths below it.
type Paths map[string]Paths

// ParsePaths builds a path set. Entries may themselves be comma separated.
func ParsePaths(paths ...string) Paths {
	root := Paths{}
	for _, entry := range paths {
		for _, p := range strings.Split(entry, ",") {
			root.add(strings.TrimSpace(p))
		}
	}
	return root
}

func (p Paths) add(path string) {
	node := p
	for _, segment := range strings.Split(path, ".") {
		segment = strings.TrimSpace(segment)
		if segment == "" {
			return
		}
		child, ok := node[segment]
		if !ok {
			child = Paths{}
			node[segment] = child
		}
		node = child
	}
}

// Has reports whether a path starts with the given field
func (p Paths) Has(field string) bool {
	_, ok := p[field]
	return ok
}

// Sub returns the paths below field with the field prefix stripped
func (p Paths) Sub(field string) Paths {
	if sub, ok := p[field]; ok {
		return sub
	}
	return Paths{}
}

// List flattens the set back into sorted dot paths, leaves only
func (p Paths) List() []string {
	var out []string
	var walk func(prefix string, node Paths)
	walk = func(prefix string, node Paths) {
		for name, sub := range node {
			path := name
			if prefix != "" {
				path = prefix + "." + name
			}
			if len(sub) == 0 {
				out = append(out, path)
				continue
			}
			walk(path, sub)
		}
	}
	walk("", p)
	sort.Strings(out)
	return out
}
