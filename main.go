package main

import "github.com/nextlevelbuilder/blelink/cmd"

func main() {
	cmd.Execute()
}
