package main

import "github.com/sunutaxe/payment-service/cmd"

func main() {
	cmd.Execute()
}
