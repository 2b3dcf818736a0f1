package main

import "price-ticker/internal/cli"

func main() {
	cli.Execute()
}
