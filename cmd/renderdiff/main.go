package main

import "github.com/MeKo-Tech/renderdiff/internal/cmd"

func main() {
	cmd.Execute()
}
