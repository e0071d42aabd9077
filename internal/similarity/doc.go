// Package similarity turns crawled slot files into fuzzy digests and scores
// every pair of digests. Paths are slot file names relative to the crawl
// output directory ("12.js") and are compared as plain strings.
package similarity
