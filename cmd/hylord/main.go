package main

import (
	hylord "github.com/sof202/HyLoRD"
)

func main() {
	hylord.Main()
}
