package main

import "zound-engine/cmd"

func main() {
	cmd.Execute()
}
