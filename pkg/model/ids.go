package model

import "strings"

// ChildID derives the id of a non-slice child from its parent's id.
//
//	ChildID("Patient.identifier:mrn", "Patient.identifier.system") = "Patient.identifier:mrn.system"
func ChildID(parentID, path string) string {
	if parentID == "" {
		return path
	}
	return parentID + "." + LastSegment(path)
}

// SliceID derives the id of a slice member from the id of the element it
// slices.
func SliceID(elementID, sliceName string) string {
	return elementID + ":" + sliceName
}

// RebaseID moves id from under oldPrefix to under newPrefix. Ids that do not
// start with oldPrefix are returned unchanged.
func RebaseID(id, oldPrefix, newPrefix string) string {
	if id == oldPrefix {
		return newPrefix
	}
	if strings.HasPrefix(id, oldPrefix+".") || strings.HasPrefix(id, oldPrefix+":") {
		return newPrefix + id[len(oldPrefix):]
	}
	return id
}

// RebasePath moves path from under oldRoot to under newRoot.
func RebasePath(path, oldRoot, newRoot string) string {
	if path == oldRoot {
		return newRoot
	}
	if strings.HasPrefix(path, oldRoot+".") {
		return newRoot + path[len(oldRoot):]
	}
	return path
}

// SliceScope returns the id of the innermost slice root enclosing or
// introduced by the element with the given id, or "" outside any slice.
// Elements of the same path are told apart by their scope: nested slices
// with the same name under different parent slices have different scopes.
//
//	SliceScope("Patient.extension:race.extension:text.url") = "Patient.extension:race.extension:text"
//	SliceScope("Patient.identifier.system")                 = ""
func SliceScope(id string) string {
	end, start := -1, 0
	for i := 0; i <= len(id); i++ {
		if i < len(id) && id[i] != '.' {
			continue
		}
		if strings.IndexByte(id[start:i], ':') >= 0 {
			end = i
		}
		start = i + 1
	}
	if end < 0 {
		return ""
	}
	return id[:end]
}

// SliceScopes returns the scope of the element's parent and of the element
// itself. own equals parent unless the last segment of id names a slice.
//
//	SliceScopes("Patient.extension:a.extension:b") = ("Patient.extension:a", "Patient.extension:a.extension:b")
//	SliceScopes("Patient.identifier:mrn.system")  = ("Patient.identifier:mrn", "Patient.identifier:mrn")
func SliceScopes(id string) (parent, own string) {
	i := strings.LastIndexByte(id, '.')
	if i < 0 {
		if strings.IndexByte(id, ':') >= 0 {
			return "", id
		}
		return "", ""
	}
	parent = SliceScope(id[:i])
	if strings.IndexByte(id[i+1:], ':') >= 0 {
		return parent, id
	}
	return parent, parent
}

// ScopeName returns the slice name a scope introduces.
//
//	ScopeName("Patient.extension:race.extension:text") = "text"
func ScopeName(scope string) string {
	last := scope[strings.LastIndexByte(scope, '.')+1:]
	if i := strings.IndexByte(last, ':'); i >= 0 {
		return last[i+1:]
	}
	return ""
}

// IDWithin derives the id of the element at path inside scope. Paths
// outside the scope's own path are returned unchanged.
//
//	IDWithin("Patient.extension:race", "Patient.extension.url") = "Patient.extension:race.url"
func IDWithin(scope, path string) string {
	if scope == "" {
		return path
	}
	sp := PathFromID(scope)
	if path == sp {
		return scope
	}
	if strings.HasPrefix(path, sp+".") {
		return scope + path[len(sp):]
	}
	return path
}

// PathFromID strips slice names from an element id, giving its path.
func PathFromID(id string) string {
	segments := strings.Split(id, ".")
	for i, seg := range segments {
		if j := strings.IndexByte(seg, ':'); j >= 0 {
			segments[i] = seg[:j]
		}
	}
	return strings.Join(segments, ".")
}
