// Package cluster groups near-duplicate files into connected components and
// reduces them to one representative each.
package cluster

import (
	"sort"

	"github.com/JakeFAU/swdedup/internal/similarity"
)

// Cluster is a connected component of the similarity graph with at least two members.
type Cluster struct {
	// Representative is the lexicographically smallest member.
	Representative string   `json:"representative"`
	Members        []string `json:"members"`
	// URLs is the first-occurrence-ordered union of member URLs, walking
	// members in sorted order.
	URLs []string `json:"urls"`
}

// Build computes the connected components induced by pairs. Only files that
// appear in a pair take part, so every cluster has at least two members.
// Clusters are sorted by representative.
func Build(pairs []similarity.Pair, fs similarity.FileSet) []Cluster {
	uf := NewUnionFind()
	for _, p := range pairs {
		uf.Union(p.FileA, p.FileB)
	}

	clusters := make([]Cluster, 0)
	for _, members := range uf.Groups() {
		if len(members) < 2 {
			continue
		}
		sort.Strings(members)
		clusters = append(clusters, Cluster{
			Representative: members[0],
			Members:        members,
			URLs:           mergeURLs(members, fs),
		})
	}
	sort.Slice(clusters, func(i, j int) bool {
		return clusters[i].Representative < clusters[j].Representative
	})
	return clusters
}

func mergeURLs(members []string, fs similarity.FileSet) []string {
	seen := make(map[string]struct{})
	urls := make([]string, 0)
	for _, m := range members {
		for _, url := range fs.URLs(m) {
			if _, dup := seen[url]; dup {
				continue
			}
			seen[url] = struct{}{}
			urls = append(urls, url)
		}
	}
	return urls
}

// Deduplicate returns the sorted deduplicated set: one representative per
// cluster plus every hashed file that belongs to no cluster.
func Deduplicate(digests similarity.DigestMap, clusters []Cluster) []string {
	clustered := make(map[string]struct{})
	out := make([]string, 0, len(digests))
	for _, c := range clusters {
		for _, m := range c.Members {
			clustered[m] = struct{}{}
		}
		out = append(out, c.Representative)
	}
	for path := range digests {
		if _, ok := clustered[path]; !ok {
			out = append(out, path)
		}
	}
	sort.Strings(out)
	return out
}

// SizeDistribution counts clusters by member count.
func SizeDistribution(clusters []Cluster) map[int]int {
	dist := make(map[int]int)
	for _, c := range clusters {
		dist[len(c.Members)]++
	}
	return dist
}

// Largest returns the cluster with the most members, preferring the earliest
// on ties. ok is false when there are no clusters.
func Largest(clusters []Cluster) (largest Cluster, ok bool) {
	for _, c := range clusters {
		if !ok || len(c.Members) > len(largest.Members) {
			largest, ok = c, true
		}
	}
	return largest, ok
}

// Clustered counts the files that belong to some cluster.
func Clustered(clusters []Cluster) int {
	n := 0
	for _, c := range clusters {
		n += len(c.Members)
	}
	return n
}
