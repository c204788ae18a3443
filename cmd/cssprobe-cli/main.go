// Package main provides the cssprobe command-line client.
//
// It runs a selector audit in-process, without the HTTP service:
//
//	cssprobe-cli run --crawl https://example.com/ -s .btn -s .card
//	cssprobe-cli run --job audit.yaml --format text
package main

func main() {
	Execute()
}
