// Command swdedup is the service worker crawl and deduplication tool.
package main

import "github.com/JakeFAU/swdedup/cmd"

func main() {
	cmd.Execute()
}
