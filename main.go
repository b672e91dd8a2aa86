package main

import (
	"github.com/n0call/cwengine/cmd"
	"github.com/n0call/cwengine/internal/recovery"
)

func main() {
	defer recovery.HandlePanic()
	cmd.Execute()
}
