// main.go - tilecraft entry point
package main

import "github.com/tilecraft/tilecraft/cmd"

func main() {
	cmd.Execute()
}
