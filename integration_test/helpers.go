package integration_test

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	_ "modernc.org/sqlite"
)

type SignUpResponse struct {
	Username      string `json:"username"`
	UserSub       string `json:"user_sub"`
	UserConfirmed bool   `json:"user_confirmed"`
}

type TokenResponse struct {
	Token string `json:"token"`
}

type UserInfoResponse struct {
	Sub           string `json:"sub"`
	Username      string `json:"username"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
}

type StatusResponse struct {
	Status string `json:"status"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func postJSON(baseURL, path string, body interface{}) (*http.Response, error) {
	jsonBody, _ := json.Marshal(body)

	client := &http.Client{Timeout: 5 * time.Second}
	return client.Post(baseURL+path, "application/json", bytes.NewReader(jsonBody))
}

func register(baseURL, email, password, password2 string) (*http.Response, error) {
	return postJSON(baseURL, "/register", map[string]string{
		"email":     email,
		"password":  password,
		"password2": password2,
	})
}

func verify(baseURL, email, code string) (*http.Response, error) {
	return postJSON(baseURL, "/verify", map[string]string{
		"email": email,
		"code":  code,
	})
}

func signin(baseURL, email, password string) (*http.Response, error) {
	return postJSON(baseURL, "/signin", map[string]string{
		"email":    email,
		"password": password,
	})
}

func signout(baseURL string) (*http.Response, error) {
	return postJSON(baseURL, "/signout", nil)
}

func getToken(baseURL string) (*http.Response, error) {
	client := &http.Client{Timeout: 5 * time.Second}
	return client.Get(baseURL + "/token")
}

func refreshToken(baseURL string) (*http.Response, error) {
	return postJSON(baseURL, "/token/refresh", nil)
}

func getUserInfo(baseURL string) (*http.Response, error) {
	client := &http.Client{Timeout: 5 * time.Second}
	return client.Get(baseURL + "/userinfo")
}

func parseResponse[T any](resp *http.Response) (*T, error) {
	defer resp.Body.Close()
	var result T
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}
	return &result, nil
}

func countStoredItems(dbPath string) (int, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return 0, err
	}
	defer db.Close()

	var count int
	err = db.QueryRow("SELECT COUNT(*) FROM local_storage").Scan(&count)
	return count, err
}

func storedItem(dbPath, key string) (string, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return "", err
	}
	defer db.Close()

	var value string
	err = db.QueryRow("SELECT item_value FROM local_storage WHERE item_key = ?", key).Scan(&value)
	return value, err
}

func cleanDatabase(dbPath string) error {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return err
	}
	defer db.Close()

	_, err = db.Exec("DELETE FROM local_storage")
	return err
}

func waitForServer(baseURL string, maxAttempts int) error {
	client := &http.Client{Timeout: 1 * time.Second}
	for i := 0; i < maxAttempts; i++ {
		resp, err := client.Get(baseURL + "/health")
		if err == nil && resp.StatusCode == 200 {
			resp.Body.Close()
			return nil
		}
		time.Sleep(500 * time.Millisecond)
	}
	return fmt.Errorf("server failed to start after %d attempts", maxAttempts)
}
