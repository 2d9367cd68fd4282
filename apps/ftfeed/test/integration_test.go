package test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"ftfeed/apps/ftfeed/internal/api"
)

// Tests in this file run against a live server; see baseURL.

func createSession(t *testing.T, base string, wallet string) api.SessionResponse {
	t.Helper()

	reqBody, err := json.Marshal(api.CreateSessionRequest{WalletAddress: wallet})
	if err != nil {
		t.Fatalf("Failed to marshal request: %v", err)
	}

	resp, err := http.Post(base+"/api/sessions", "application/json", bytes.NewBuffer(reqBody))
	if err != nil {
		t.Fatalf("Failed to make POST request: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		var errorResp api.ErrorResponse
		json.NewDecoder(resp.Body).Decode(&errorResp)
		t.Fatalf("Expected status 201, got %d. Error: %s - %s", resp.StatusCode, errorResp.Error, errorResp.Message)
	}

	var session api.SessionResponse
	if err := json.NewDecoder(resp.Body).Decode(&session); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	t.Cleanup(func() {
		req, _ := http.NewRequest(http.MethodDelete, fmt.Sprintf("%s/api/sessions/%s", base, session.ID), nil)
		if resp, err := http.DefaultClient.Do(req); err == nil {
			resp.Body.Close()
		}
	})
	return session
}

func TestHealthCheck(t *testing.T) {
	base := baseURL(t)

	resp, err := http.Get(base + "/api/health")
	if err != nil {
		t.Fatalf("Failed to make GET request: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}

	var health map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if health["status"] != "healthy" {
		t.Errorf("Expected status 'healthy', got '%s'", health["status"])
	}
}

func TestSessionFeed(t *testing.T) {
	base := baseURL(t)
	session := createSession(t, base, TestWalletAddress)

	if session.ID == "" {
		t.Fatal("Session ID should not be empty")
	}
	if session.Tier == "" {
		t.Fatal("Session with a wallet should have a tier")
	}

	t.Run("FilterAndSort", func(t *testing.T) {
		filterURL := fmt.Sprintf("%s/api/sessions/%s/filters/trades?category=Buy&ethAmountMin=0.01", base, session.ID)
		req, _ := http.NewRequest(http.MethodPut, filterURL, nil)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("Failed to make PUT request: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("Expected status 200, got %d", resp.StatusCode)
		}

		// Give the pollers a moment to admit something
		time.Sleep(5 * time.Second)

		resp, err = http.Get(fmt.Sprintf("%s/api/sessions/%s/trades?sort=ethAmount&order=desc", base, session.ID))
		if err != nil {
			t.Fatalf("Failed to make GET request: %v", err)
		}
		defer resp.Body.Close()

		var trades api.TradesResponse
		if err := json.NewDecoder(resp.Body).Decode(&trades); err != nil {
			t.Fatalf("Failed to decode response: %v", err)
		}
		for _, trade := range trades.Trades {
			if trade.TransactionType != "Buy" {
				t.Errorf("Expected only Buy trades, got %s", trade.TransactionType)
			}
		}
		t.Logf("Session %s sees %d trades", session.ID, trades.Count)
	})

	t.Run("InvalidFilter", func(t *testing.T) {
		filterURL := fmt.Sprintf("%s/api/sessions/%s/filters/trades?category=Hold", base, session.ID)
		req, _ := http.NewRequest(http.MethodPut, filterURL, nil)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("Failed to make PUT request: %v", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("Expected status 400, got %d", resp.StatusCode)
		}
	})

	t.Run("Stream", func(t *testing.T) {
		wsURL := "ws" + strings.TrimPrefix(base, "http") + "/api/sessions/" + session.ID + "/stream"
		dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
		conn, _, err := dialer.Dial(wsURL, nil)
		if err != nil {
			t.Fatalf("Failed to open stream: %v", err)
		}
		defer conn.Close()

		conn.SetReadDeadline(time.Now().Add(30 * time.Second))
		var message api.StreamMessage
		if err := conn.ReadJSON(&message); err != nil {
			t.Fatalf("Failed to read stream message: %v", err)
		}
		t.Logf("First stream message type: %s", message.Type)
	})
}

func TestGetNonExistentSession(t *testing.T) {
	base := baseURL(t)

	resp, err := http.Get(base + "/api/sessions/00000000-0000-0000-0000-000000000000")
	if err != nil {
		t.Fatalf("Failed to make GET request: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", resp.StatusCode)
	}

	var errorResp api.ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&errorResp); err != nil {
		t.Fatalf("Failed to decode error response: %v", err)
	}
	if errorResp.Error != "session_not_found" {
		t.Errorf("Expected error 'session_not_found', got '%s'", errorResp.Error)
	}
}
