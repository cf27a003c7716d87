package main

import "github.com/packagewjx/pi-health/cmd"

func main() {
	cmd.Execute()
}
