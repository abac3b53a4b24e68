package main

import "gemchat/cmd"

func main() {
	cmd.Execute()
}
