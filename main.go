package main

import "github.com/LangkaWS/Blanco-Discord-Bot/cmd"

func main() {
	cmd.Execute()
}
