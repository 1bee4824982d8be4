package main

import "ecpower-go/cmd/ecpowerd/cmd"

func main() {
	cmd.Execute()
}
