// askctl is the Ask Danta operator CLI.
package main

func main() {
	Execute()
}
