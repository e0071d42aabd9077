package cluster

// UnionFind is a disjoint-set forest over string keys. Find is iterative, so
// deep chains never grow the stack.
type UnionFind struct {
	parent map[string]string
	size   map[string]int
}

// NewUnionFind returns an empty forest.
func NewUnionFind() *UnionFind {
	return &UnionFind{parent: make(map[string]string), size: make(map[string]int)}
}

// Add registers x as a singleton if it is not already known.
func (u *UnionFind) Add(x string) {
	if _, ok := u.parent[x]; !ok {
		u.parent[x] = x
		u.size[x] = 1
	}
}

// Find returns the root of x, adding x first if needed, and compresses the
// path it walked.
func (u *UnionFind) Find(x string) string {
	u.Add(x)
	root := x
	for u.parent[root] != root {
		root = u.parent[root]
	}
	for x != root {
		next := u.parent[x]
		u.parent[x] = root
		x = next
	}
	return root
}

// Union merges the sets holding x and y, attaching the smaller tree under the larger.
func (u *UnionFind) Union(x, y string) {
	rx, ry := u.Find(x), u.Find(y)
	if rx == ry {
		return
	}
	if u.size[rx] < u.size[ry] {
		rx, ry = ry, rx
	}
	u.parent[ry] = rx
	u.size[rx] += u.size[ry]
	delete(u.size, ry)
}

// Connected reports whether x and y share a set.
func (u *UnionFind) Connected(x, y string) bool {
	return u.Find(x) == u.Find(y)
}

// Groups returns every set keyed by its root.
func (u *UnionFind) Groups() map[string][]string {
	groups := make(map[string][]string)
	for x := range u.parent {
		root := u.Find(x)
		groups[root] = append(groups[root], x)
	}
	return groups
}
