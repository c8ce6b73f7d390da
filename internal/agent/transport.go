// Package agent implements the client key agent: it holds the
// password-derived KEK, the unwrapped private key, and the data key in
// memory and performs every cryptographic operation locally. The store
// behind the API only ever sees ciphertext.
package agent

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/ndanilov/piivault/internal/models"
)

// API is the key-store transport the agent talks to. Implementations
// carry an authenticated identity; every call acts as that identity.
type API interface {
	// Login resolves the authenticated identity behind the transport.
	Login(ctx context.Context) (*models.Identity, error)
	// FetchRecord returns the caller's own key record.
	FetchRecord(ctx context.Context) (*models.KeyRecord, error)
	// FetchRecordFor returns another identity's record and identity
	// row. Admin only; used for the read half of a grant.
	FetchRecordFor(ctx context.Context, username string) (*models.KeyRecord, *models.Identity, error)
	// SubmitSetup stores first-time setup material. When the store
	// already held a private-key blob it is returned unchanged with
	// existing=true.
	SubmitSetup(ctx context.Context, publicWrapKey, encryptedPrivateKey []byte) (rec *models.KeyRecord, existing bool, err error)
	// SubmitBootstrap stores the first admin's complete key record.
	SubmitBootstrap(ctx context.Context, publicWrapKey, encryptedPrivateKey, wrappedDataKey []byte) error
	// SubmitGrant persists a wrapped data-key copy for the target.
	SubmitGrant(ctx context.Context, username string, wrappedDataKey []byte) error
	// SubmitReset clears the target's key record. Admin only.
	SubmitReset(ctx context.Context, username string) error
	// SubmitPasswordChange proves the current password and swaps in a
	// blob re-encrypted under the new password's KEK.
	SubmitPasswordChange(ctx context.Context, currentPassword, newPassword string, encryptedPrivateKey []byte) error
	// CreateIdentity enrolls a new identity. Admin only.
	CreateIdentity(ctx context.Context, username, password string, role models.Role) (*models.Identity, error)
	// DisableIdentity revokes an identity. Admin only.
	DisableIdentity(ctx context.Context, username string) error
}

// Register enrolls this device: it proves the password to the store
// over server-authenticated TLS and saves the issued client
// certificate and key, which authenticate every subsequent call.
func Register(baseURL, username, password, caPath, certOut, keyOut string) error {
	caCert, err := os.ReadFile(caPath)
	if err != nil {
		return fmt.Errorf("failed to read CA cert: %w", err)
	}
	caPool := x509.NewCertPool()
	if !caPool.AppendCertsFromPEM(caCert) {
		return errors.New("failed to parse CA cert")
	}
	client := &http.Client{Transport: &http.Transport{TLSClientConfig: &tls.Config{RootCAs: caPool}}}

	payload := map[string]string{"username": username, "password": password}
	b, _ := json.Marshal(payload)
	resp, err := client.Post(baseURL+"/api/register", "application/json", bytes.NewReader(b))
	if err != nil {
		return fmt.Errorf("register failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server error: %s", string(data))
	}

	var certData map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&certData); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	if err := os.WriteFile(certOut, []byte(certData["cert"]), 0600); err != nil {
		return fmt.Errorf("failed to save client cert: %w", err)
	}
	if err := os.WriteFile(keyOut, []byte(certData["key"]), 0600); err != nil {
		return fmt.Errorf("failed to save client key: %w", err)
	}
	return nil
}

// Client is the mTLS HTTP implementation of API.
type Client struct {
	http    *http.Client
	baseURL string
}

// NewClient builds a Client from the device certificate issued at
// registration plus the CA that signed the server certificate.
func NewClient(baseURL, certFile, keyFile, caFile string) (*Client, error) {
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load client cert/key: %w", err)
	}
	caCert, err := os.ReadFile(caFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read CA cert: %w", err)
	}
	caPool := x509.NewCertPool()
	caPool.AppendCertsFromPEM(caCert)

	transport := &http.Transport{
		TLSClientConfig: &tls.Config{
			Certificates: []tls.Certificate{cert},
			RootCAs:      caPool,
		},
	}
	return &Client{
		http:    &http.Client{Transport: transport, Timeout: 10 * time.Second},
		baseURL: baseURL,
	}, nil
}

// apiError maps HTTP status codes back to the protocol's sentinel
// errors so errors.Is works across the wire.
func apiError(resp *http.Response) error {
	data, _ := io.ReadAll(resp.Body)
	msg := string(bytes.TrimSpace(data))
	switch resp.StatusCode {
	case http.StatusBadRequest:
		return fmt.Errorf("%w: %s", models.ErrInvalidInput, msg)
	case http.StatusUnauthorized:
		return fmt.Errorf("%w: %s", models.ErrBadCredentials, msg)
	case http.StatusForbidden:
		return fmt.Errorf("%w: %s", models.ErrUnauthorized, msg)
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", models.ErrNotFound, msg)
	case http.StatusConflict:
		switch {
		case bytes.Contains(data, []byte("data key already exists")):
			return fmt.Errorf("%w: %s", models.ErrDataKeyExists, msg)
		case bytes.Contains(data, []byte("no data key")):
			return fmt.Errorf("%w: %s", models.ErrNoDataKey, msg)
		default:
			return fmt.Errorf("%w: %s", models.ErrSetupConflict, msg)
		}
	default:
		return fmt.Errorf("server error (%d): %s", resp.StatusCode, msg)
	}
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return apiError(resp)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) post(ctx context.Context, path string, in, out any) error {
	b, err := json.Marshal(in)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return apiError(resp)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) Login(ctx context.Context) (*models.Identity, error) {
	var id models.Identity
	if err := c.get(ctx, "/api/login", &id); err != nil {
		return nil, err
	}
	return &id, nil
}

func (c *Client) FetchRecord(ctx context.Context) (*models.KeyRecord, error) {
	var rec models.KeyRecord
	if err := c.get(ctx, "/api/keys", &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (c *Client) FetchRecordFor(ctx context.Context, username string) (*models.KeyRecord, *models.Identity, error) {
	var out struct {
		Record   *models.KeyRecord `json:"record"`
		Identity *models.Identity  `json:"identity"`
	}
	if err := c.get(ctx, "/api/keys/"+username, &out); err != nil {
		return nil, nil, err
	}
	return out.Record, out.Identity, nil
}

func (c *Client) SubmitSetup(ctx context.Context, publicWrapKey, encryptedPrivateKey []byte) (*models.KeyRecord, bool, error) {
	in := map[string][]byte{
		"public_wrap_key":       publicWrapKey,
		"encrypted_private_key": encryptedPrivateKey,
	}
	var out struct {
		Record   *models.KeyRecord `json:"record"`
		Existing bool              `json:"existing"`
	}
	if err := c.post(ctx, "/api/keys/setup", in, &out); err != nil {
		return nil, false, err
	}
	return out.Record, out.Existing, nil
}

func (c *Client) SubmitBootstrap(ctx context.Context, publicWrapKey, encryptedPrivateKey, wrappedDataKey []byte) error {
	in := map[string][]byte{
		"public_wrap_key":       publicWrapKey,
		"encrypted_private_key": encryptedPrivateKey,
		"wrapped_data_key":      wrappedDataKey,
	}
	return c.post(ctx, "/api/keys/bootstrap", in, nil)
}

func (c *Client) SubmitGrant(ctx context.Context, username string, wrappedDataKey []byte) error {
	in := map[string]any{
		"username":         username,
		"wrapped_data_key": wrappedDataKey,
	}
	return c.post(ctx, "/api/keys/grant", in, nil)
}

func (c *Client) SubmitReset(ctx context.Context, username string) error {
	return c.post(ctx, "/api/keys/reset", map[string]string{"username": username}, nil)
}

func (c *Client) SubmitPasswordChange(ctx context.Context, currentPassword, newPassword string, encryptedPrivateKey []byte) error {
	in := map[string]any{
		"current_password":      currentPassword,
		"new_password":          newPassword,
		"encrypted_private_key": encryptedPrivateKey,
	}
	return c.post(ctx, "/api/password", in, nil)
}

func (c *Client) CreateIdentity(ctx context.Context, username, password string, role models.Role) (*models.Identity, error) {
	in := map[string]any{
		"username": username,
		"password": password,
		"role":     role,
	}
	var id models.Identity
	if err := c.post(ctx, "/api/identities", in, &id); err != nil {
		return nil, err
	}
	return &id, nil
}

func (c *Client) DisableIdentity(ctx context.Context, username string) error {
	return c.post(ctx, "/api/identities/disable", map[string]string{"username": username}, nil)
}
