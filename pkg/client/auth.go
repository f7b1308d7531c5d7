package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/francetechnologie-boop/livechat-app-sub007/internal/logging"
)

// TokenFile holds a saved session token.
type TokenFile struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	Server    string    `json:"server"`
	AgentID   string    `json:"agent_id"`
}

// IsExpired returns true if the token has expired (with optional margin).
func (t *TokenFile) IsExpired(margin time.Duration) bool {
	return time.Now().Add(margin).After(t.ExpiresAt)
}

// LoginResponse is the response from POST /api/auth/token.
type LoginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	Agent     struct {
		ID      string `json:"id"`
		Name    string `json:"name"`
		IsAdmin bool   `json:"is_admin"`
	} `json:"agent"`
}

// RefreshResponse is the response from POST /api/auth/refresh.
type RefreshResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Login authenticates with email/password and returns a session token.
func (c *Client) Login(ctx context.Context, email, password, deviceID string) (*LoginResponse, error) {
	body, _ := json.Marshal(map[string]string{
		"email":     email,
		"password":  password,
		"device_id": deviceID,
	})

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/api/auth/token", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("login request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("login failed (%d): %s", resp.StatusCode, string(data))
	}

	var result LoginResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("parse login response: %w", err)
	}

	c.SetAuthToken(result.Token)
	return &result, nil
}

// RefreshToken refreshes the current token. Uses the current bearer token.
func (c *Client) RefreshToken(ctx context.Context) (*RefreshResponse, error) {
	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/api/auth/refresh", nil)
	if err != nil {
		return nil, err
	}
	c.applyAuth(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("refresh request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("refresh failed (%d): %s", resp.StatusCode, string(data))
	}

	var result RefreshResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("parse refresh response: %w", err)
	}

	c.SetAuthToken(result.Token)
	return &result, nil
}

// Logout revokes the current token on the server.
func (c *Client) Logout(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, "DELETE", c.baseURL+"/api/auth/token", nil)
	if err != nil {
		return err
	}
	c.applyAuth(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("logout request failed: %w", err)
	}
	defer resp.Body.Close()

	c.SetAuthToken("")
	return nil
}

// TokenClaims are the claims the console reads from a session token. The
// token is decoded without verification; the server is the verifier.
type TokenClaims struct {
	AgentID string `json:"agent_id"`
	jwt.RegisteredClaims
}

// DecodeToken extracts the claims from a session token without verifying
// its signature.
func DecodeToken(token string) (*TokenClaims, error) {
	var claims TokenClaims
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(token, &claims); err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}
	return &claims, nil
}

// StartTokenRefreshLoop starts a goroutine that refreshes the token before
// it expires.
func (c *Client) StartTokenRefreshLoop(ctx context.Context, tf *TokenFile) {
	go func() {
		ticker := time.NewTicker(15 * time.Minute)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if tf.IsExpired(1 * time.Hour) {
					logging.Info("token expiring soon, refreshing")
					refreshResp, err := c.RefreshToken(ctx)
					if err != nil {
						logging.Error("token refresh failed", logging.Err(err))
						continue
					}
					tf.Token = refreshResp.Token
					tf.ExpiresAt = refreshResp.ExpiresAt
					if err := SaveToken(tf); err != nil {
						logging.Error("save refreshed token failed", logging.Err(err))
					}
				}
			}
		}
	}()
}

func configDir() string {
	if runtime.GOOS == "windows" {
		appData := os.Getenv("APPDATA")
		if appData == "" {
			home, _ := os.UserHomeDir()
			appData = filepath.Join(home, "AppData", "Roaming")
		}
		return filepath.Join(appData, "LivechatConsole")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "livechat-console")
}

// TokenFilePath returns the default path for the token file.
func TokenFilePath() string {
	return filepath.Join(configDir(), "token.json")
}

// SaveToken saves a token file to the default location.
func SaveToken(tf *TokenFile) error {
	path := TokenFilePath()
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(tf, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

// LoadToken loads a token file from the default location.
func LoadToken() (*TokenFile, error) {
	data, err := os.ReadFile(TokenFilePath())
	if err != nil {
		return nil, err
	}
	var tf TokenFile
	if err := json.Unmarshal(data, &tf); err != nil {
		return nil, err
	}
	return &tf, nil
}

// DeleteToken removes the saved token file.
func DeleteToken() error {
	return os.Remove(TokenFilePath())
}

// DeviceID returns the persisted device identifier, minting one on first
// use.
func DeviceID() string {
	path := filepath.Join(configDir(), "device-id")
	if data, err := os.ReadFile(path); err == nil && len(data) > 0 {
		return string(bytes.TrimSpace(data))
	}

	id := uuid.NewString()
	if err := os.MkdirAll(filepath.Dir(path), 0700); err == nil {
		_ = os.WriteFile(path, []byte(id), 0600)
	}
	return id
}
