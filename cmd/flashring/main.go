/*
Copyright © 2025 NAME HERE <EMAIL ADDRESS>
*/
package main

import "github.com/ssargent/flashring/cmd/flashring/cmd"

func main() {
	cmd.Execute()
}
