package main

import "github.com/shouni/go-news-digest/cmd"

func main() {
	cmd.Execute()
}
