package test

import (
	"log"
	"os"
	"testing"

	"github.com/joho/godotenv"
)

const (
	// Test wallet address (example address)
	TestWalletAddress = "0x0B8fA6F76eB75ae3a4ca28eb3020DFC4503F2136"

	// Environment variables that enable the suites in this package
	apiURLEnv  = "FTFEED_API_URL"
	l2RPCEnv   = "FTFEED_TEST_RPC_URL"
	l1RPCEnv   = "FTFEED_TEST_L1_RPC_URL"
	defaultURL = "http://localhost:8080"
)

// loadEnvConfig loads environment variables from .env file if it exists
func loadEnvConfig() {
	if err := godotenv.Load(".env"); err == nil {
		log.Printf("Loaded environment variables from .env")
		return
	}
	log.Println("No .env file found, using system environment variables")
}

// requireEnv skips the test unless key is set.
func requireEnv(t *testing.T, key string) string {
	t.Helper()
	loadEnvConfig()

	value := os.Getenv(key)
	if value == "" {
		t.Skipf("%s not set", key)
	}
	return value
}

// baseURL returns the address of a running ftfeed API. An empty
// FTFEED_API_URL skips the test; "default" uses localhost:8080.
func baseURL(t *testing.T) string {
	t.Helper()
	url := requireEnv(t, apiURLEnv)
	if url == "default" {
		return defaultURL
	}
	return url
}
