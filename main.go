// Webguard is a web protection daemon: it checks navigated URLs against a set
// of DNS and REST reputation providers, caches their verdicts, and redirects
// tabs with dangerous destinations to a warning page.
package main

import "github.com/fcchbjm/webguard/internal/cmd"

func main() {
	cmd.Main()
}
