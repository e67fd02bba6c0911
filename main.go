package main

import "github.com/lmaotrigine/Ayaka/cmd"

func main() {
	cmd.Execute()
}
