package main

import "github.com/kaifeng/apkmorph/cmd"

func main() {
	cmd.Execute()
}
