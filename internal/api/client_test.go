package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func staticToken(token string) AccessTokenFunc {
	return func(context.Context) (string, error) { return token, nil }
}

func TestProfileSendsBearerToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/user/profile" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer token-1" {
			t.Errorf("Authorization = %q", got)
		}
		_ = json.NewEncoder(w).Encode(Profile{ID: "u1", FirstName: "Kari", LastName: "Nordmann", Email: "kari@example.com"})
	}))
	defer srv.Close()

	c := New(srv.URL, staticToken("token-1"), nil)
	p, err := c.Profile(context.Background())
	if err != nil {
		t.Fatalf("Profile: %v", err)
	}
	if p.ID != "u1" || p.FirstName != "Kari" {
		t.Errorf("unexpected profile %+v", p)
	}
}

func TestProfileNonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := New(srv.URL, staticToken("token-1"), nil)
	if _, err := c.Profile(context.Background()); err == nil {
		t.Fatal("expected error on 401")
	}
}

func TestConnectLinkPostsToken(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/user/link" {
			t.Errorf("%s %s", r.Method, r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := New(srv.URL, staticToken("token-1"), nil)
	if err := c.ConnectLink(context.Background(), "link-token-9"); err != nil {
		t.Fatalf("ConnectLink: %v", err)
	}
	if got["linkToken"] != "link-token-9" {
		t.Errorf("body = %v", got)
	}
}

func TestListEndpoints(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/user/permits":
			_ = json.NewEncoder(w).Encode([]Permit{{ID: "p1", Species: "moose"}})
		case "/user/memberships":
			_ = json.NewEncoder(w).Encode([]Membership{{ID: "m1", Role: "manager"}})
		case "/user/districts":
			_ = json.NewEncoder(w).Encode([]District{{ID: "d1", Name: "North"}})
		case "/user/contracts":
			_ = json.NewEncoder(w).Encode([]Contract{{ID: "c1", DistrictID: "d1"}})
		default:
			t.Errorf("unexpected path %q", r.URL.Path)
		}
	}))
	defer srv.Close()

	ctx := context.Background()
	c := New(srv.URL, staticToken("token-1"), nil)

	permits, err := c.Permits(ctx)
	if err != nil || len(permits) != 1 || permits[0].Species != "moose" {
		t.Errorf("Permits = %v, %v", permits, err)
	}
	memberships, err := c.Memberships(ctx)
	if err != nil || len(memberships) != 1 || memberships[0].Role != "manager" {
		t.Errorf("Memberships = %v, %v", memberships, err)
	}
	districts, err := c.Districts(ctx)
	if err != nil || len(districts) != 1 || districts[0].Name != "North" {
		t.Errorf("Districts = %v, %v", districts, err)
	}
	contracts, err := c.Contracts(ctx)
	if err != nil || len(contracts) != 1 || contracts[0].DistrictID != "d1" {
		t.Errorf("Contracts = %v, %v", contracts, err)
	}
}
