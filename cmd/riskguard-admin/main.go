package main

import (
	"github.com/turtacn/riskguard/cmd/cli"
)

// main is the entry point for the riskguard-admin command-line tool.
// main 是 riskguard-admin 命令行工具的入口点。
func main() {
	cli.Execute()
}
