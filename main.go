// The main package for the searchspider executable.
package main

import (
	"github.com/findsign/searchspider/cmd"
)

func main() {
	cmd.Execute()
}
