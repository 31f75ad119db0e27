package main

import "github.com/andresmejia3/visage/cmd"

func main() {
	cmd.Execute()
}
