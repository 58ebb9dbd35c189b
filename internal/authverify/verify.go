// Copyright 2026 Rob Macrae. All rights reserved.
// SPDX-License-Identifier: LicenseRef-Proprietary

// Package authverify checks bearer tokens against an external auth
// service, rather than the teacher's static SANDBOX_INTERNAL_TOKEN
// comparison — this agent's tokens are minted per-user upstream, not
// baked into its own environment.
package authverify

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"
)

const verifyRevision = "authverify-v1-remote-introspect"

func init() {
	log.Printf("[authverify] REVISION: %s loaded", verifyRevision)
}

const defaultAuthServerURL = "https://auth.internal.orcabot.dev/verify"

// Verifier checks bearer tokens against AUTH_SERVER_URL.
type Verifier struct {
	baseURL string
	client  *http.Client
}

// New creates a Verifier. baseURL defaults to AUTH_SERVER_URL, falling
// back to defaultAuthServerURL if unset.
func New() *Verifier {
	baseURL := os.Getenv("AUTH_SERVER_URL")
	if baseURL == "" {
		baseURL = defaultAuthServerURL
		log.Printf("[authverify] AUTH_SERVER_URL not set, defaulting to %s", baseURL)
	}
	return &Verifier{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 5 * time.Second},
	}
}

type verifyResponse struct {
	Valid bool `json:"valid"`
}

// Verify reports whether token is accepted by the auth service. A
// transport-level failure is returned as an error rather than a false
// positive/negative, so the caller can distinguish "bad token" from
// "auth service unreachable".
func (v *Verifier) Verify(token string) (bool, error) {
	if token == "" {
		return false, fmt.Errorf("empty token")
	}

	req, err := http.NewRequest(http.MethodPost, v.baseURL, nil)
	if err != nil {
		return false, err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := v.client.Do(req)
	if err != nil {
		log.Printf("[authverify] REJECT — auth server unreachable: %v", err)
		return false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		log.Printf("[authverify] REJECT — auth server returned %d (token len=%d)", resp.StatusCode, len(token))
		return false, nil
	}
	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("auth server returned status %d", resp.StatusCode)
	}

	var out verifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return false, err
	}
	return out.Valid, nil
}
