package main

import "vigil/cmd/vigil/cmd"

func main() {
	cmd.Execute()
}
