package main

import "github.com/kebairia/mybak/cmd"

func main() {
	cmd.Execute()
}
