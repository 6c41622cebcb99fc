package http

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestAuthMiddleware(t *testing.T) {
	srv := startTestServer(t)
	token := registerUser(t, srv, "testuser")

	tests := []struct {
		name   string
		header string
		status int
	}{
		{"missing header", "", http.StatusUnauthorized},
		{"malformed header", "Token abc", http.StatusUnauthorized},
		{"garbage token", "Bearer not.a.jwt", http.StatusUnauthorized},
		{"valid token", "Bearer " + token, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, srv.ts.URL+"/api/rooms", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			resp := httptest.NewRecorder()
			srv.ts.Config.Handler.ServeHTTP(resp, req)
			if resp.Code != tt.status {
				t.Errorf("expected status %d, got %d: %s", tt.status, resp.Code, resp.Body.String())
			}
		})
	}
}

func TestRegisterAndLogin(t *testing.T) {
	srv := startTestServer(t)

	resp := doJSON(t, srv, http.MethodPost, "/api/register", "", `{"username":"alice","password":"password123"}`)
	if resp.Code != http.StatusCreated {
		t.Fatalf("register: %d %s", resp.Code, resp.Body.String())
	}

	resp = doJSON(t, srv, http.MethodPost, "/api/register", "", `{"username":"alice","password":"password123"}`)
	if resp.Code != http.StatusConflict {
		t.Errorf("duplicate register: expected 409, got %d", resp.Code)
	}

	resp = doJSON(t, srv, http.MethodPost, "/api/login", "", `{"username":"alice","password":"wrong-password"}`)
	if resp.Code != http.StatusUnauthorized {
		t.Errorf("bad password login: expected 401, got %d", resp.Code)
	}

	resp = doJSON(t, srv, http.MethodPost, "/api/login", "", `{"username":"alice","password":"password123"}`)
	if resp.Code != http.StatusOK {
		t.Fatalf("login: %d %s", resp.Code, resp.Body.String())
	}
	var body AuthResponse
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal login response: %v", err)
	}
	if _, err := srv.auth.ValidateToken(body.Token); err != nil {
		t.Fatalf("login token invalid: %v", err)
	}
}

func TestGuestLoginGrantsAccess(t *testing.T) {
	srv := startTestServer(t)

	resp := doJSON(t, srv, http.MethodPost, "/api/guest", "", "")
	if resp.Code != http.StatusOK {
		t.Fatalf("guest login failed: %d %s", resp.Code, resp.Body.String())
	}
	var body AuthResponse
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal guest response: %v", err)
	}

	claims, err := srv.auth.ValidateToken(body.Token)
	if err != nil {
		t.Fatalf("guest token invalid: %v", err)
	}
	if !claims.IsGuest {
		t.Error("guest claim not set")
	}

	listed := doJSON(t, srv, http.MethodGet, "/api/rooms", body.Token, "")
	if listed.Code != http.StatusOK {
		t.Errorf("guest denied room list: %d", listed.Code)
	}
}
