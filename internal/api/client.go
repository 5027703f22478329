// Package api is the bearer-authenticated client for the field backend. The
// session machine uses it once during bootstrap (profile fetch); the
// account-link machine uses it to register a link token and refetch the
// user's data set.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// AccessTokenFunc supplies a current access token, typically the session
// machine's blocking accessor.
type AccessTokenFunc func(ctx context.Context) (string, error)

// Client calls the field backend.
type Client struct {
	base  string
	http  *http.Client
	token AccessTokenFunc
}

// New creates a client for the backend at base. A nil httpClient means
// http.DefaultClient.
func New(base string, token AccessTokenFunc, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{base: base, http: httpClient, token: token}
}

// Profile is the authenticated user's profile payload.
type Profile struct {
	ID        string `json:"id"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Email     string `json:"email"`
}

// Permit is a hunting permit held by the user.
type Permit struct {
	ID         string `json:"id"`
	Species    string `json:"species"`
	ValidFrom  string `json:"validFrom"`
	ValidTo    string `json:"validTo"`
	DistrictID string `json:"districtId"`
}

// Membership links the user to a district with a role.
type Membership struct {
	ID         string `json:"id"`
	DistrictID string `json:"districtId"`
	Role       string `json:"role"`
}

// District is a hunting district the user belongs to.
type District struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Contract is a land-use contract attached to a district.
type Contract struct {
	ID         string `json:"id"`
	DistrictID string `json:"districtId"`
	Name       string `json:"name"`
}

func (c *Client) Profile(ctx context.Context) (*Profile, error) {
	var p Profile
	if err := c.get(ctx, "/user/profile", &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (c *Client) Permits(ctx context.Context) ([]Permit, error) {
	var out []Permit
	return out, c.get(ctx, "/user/permits", &out)
}

func (c *Client) Memberships(ctx context.Context) ([]Membership, error) {
	var out []Membership
	return out, c.get(ctx, "/user/memberships", &out)
}

func (c *Client) Districts(ctx context.Context) ([]District, error) {
	var out []District
	return out, c.get(ctx, "/user/districts", &out)
}

func (c *Client) Contracts(ctx context.Context) ([]Contract, error) {
	var out []Contract
	return out, c.get(ctx, "/user/contracts", &out)
}

// ConnectLink registers a third-party linking token against the current
// user account.
func (c *Client) ConnectLink(ctx context.Context, linkToken string) error {
	body := map[string]string{"linkToken": linkToken}
	return c.do(ctx, http.MethodPost, "/user/link", body, nil)
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	return c.do(ctx, http.MethodGet, path, nil, out)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	token, err := c.token(ctx)
	if err != nil {
		return fmt.Errorf("obtaining access token: %w", err)
	}

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request body: %w", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%s %s: unexpected status %d", method, path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s response: %w", path, err)
	}
	return nil
}
