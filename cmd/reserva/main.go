package main

import "reserva/internal/cli"

func main() {
	cli.Execute()
}
