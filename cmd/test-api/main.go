// Package main is a smoke-test utility that verifies the server's HTTP API
// is reachable and returning valid responses. It hits the public health
// endpoint and prints the status code and response body, making it useful
// for quick post-deployment checks without needing external tooling like
// curl or a full integration test suite.
package main

import (
	"fmt"
	"io"
	"net/http"
	"os"
)

func main() {
	base := os.Getenv("BASE_URL")
	if base == "" {
		base = "http://localhost:8080"
	}

	resp, err := http.Get(base + "/api/health")
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		fmt.Printf("Error reading body: %v\n", err)
		return
	}

	fmt.Printf("Status: %d\n", resp.StatusCode)
	fmt.Printf("Response:\n%s\n", string(body))
}
