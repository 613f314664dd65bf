// Command taskscope runs the structured-concurrency walkthrough scenarios.
package main

func main() {
	Execute()
}
