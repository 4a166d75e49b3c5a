package main

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/gofiber/fiber/v3"
	"github.com/rs/zerolog"
)

type fakeSettingRepo struct {
	values map[string]string
}

func newFakeSettingRepo() *fakeSettingRepo {
	return &fakeSettingRepo{values: make(map[string]string)}
}

func (r *fakeSettingRepo) Get(_ context.Context, key string) (string, bool, error) {
	v, ok := r.values[key]
	return v, ok, nil
}

func (r *fakeSettingRepo) GetAll(_ context.Context) (map[string]string, error) {
	out := make(map[string]string, len(r.values))
	for k, v := range r.values {
		out[k] = v
	}
	return out, nil
}

func (r *fakeSettingRepo) Set(_ context.Context, key, value string) error {
	r.values[key] = value
	return nil
}

func (r *fakeSettingRepo) SetDefaults(_ context.Context, defaults map[string]string) error {
	for k, v := range defaults {
		if _, exists := r.values[k]; !exists {
			r.values[k] = v
		}
	}
	return nil
}

func testSettingApp(t *testing.T, repo *fakeSettingRepo) *fiber.App {
	t.Helper()
	handler := newSettingHandler(repo, &fakeOplog{}, zerolog.Nop())

	app := fiber.New()
	api := app.Group("/api/v1", requireAPIKey("test-admin-key"))
	api.Get("/settings", handler.List)
	api.Get("/settings/:key", handler.Get)
	api.Put("/settings/:key", handler.Set)
	return app
}

func TestSetSetting_StoresValue(t *testing.T) {
	repo := newFakeSettingRepo()
	app := testSettingApp(t, repo)

	resp := doReq(t, app, authedReq(http.MethodPut, "/api/v1/settings/how_to_verify_link", `{"value":"https://example.com/tutorial"}`))

	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, fiber.StatusOK)
	}
	v, ok, _ := repo.Get(context.Background(), "how_to_verify_link")
	if !ok || v != "https://example.com/tutorial" {
		t.Errorf("got (%q, %v), want the stored value", v, ok)
	}
}

func TestGetSetting_NotFound(t *testing.T) {
	repo := newFakeSettingRepo()
	app := testSettingApp(t, repo)

	resp := doReq(t, app, authedReq(http.MethodGet, "/api/v1/settings/missing_key", ""))

	if resp.StatusCode != fiber.StatusNotFound {
		t.Errorf("status = %d, want %d", resp.StatusCode, fiber.StatusNotFound)
	}
}

func TestGetSetting_ReturnsStoredValue(t *testing.T) {
	repo := newFakeSettingRepo()
	repo.values["file_access_limit"] = "3"
	app := testSettingApp(t, repo)

	resp := doReq(t, app, authedReq(http.MethodGet, "/api/v1/settings/file_access_limit", ""))
	body := readBody(t, resp)
	env := parseSuccess(t, body)

	var out struct {
		Key   string `json:"key"`
		Value string `json:"value"`
	}
	if err := json.Unmarshal(env.Data, &out); err != nil {
		t.Fatalf("unmarshal setting: %v", err)
	}
	if out.Value != "3" {
		t.Errorf("value = %q, want %q", out.Value, "3")
	}
}

func TestListSettings_ReturnsAll(t *testing.T) {
	repo := newFakeSettingRepo()
	repo.values["a"] = "1"
	repo.values["b"] = "2"
	app := testSettingApp(t, repo)

	resp := doReq(t, app, authedReq(http.MethodGet, "/api/v1/settings", ""))
	body := readBody(t, resp)
	env := parseSuccess(t, body)

	var out map[string]string
	if err := json.Unmarshal(env.Data, &out); err != nil {
		t.Fatalf("unmarshal settings: %v", err)
	}
	if len(out) != 2 {
		t.Errorf("out = %+v, want 2 entries", out)
	}
}

func TestSetSetting_RejectsMissingAuth(t *testing.T) {
	repo := newFakeSettingRepo()
	app := testSettingApp(t, repo)

	resp := doReq(t, app, jsonReq(http.MethodPut, "/api/v1/settings/file_access_limit", `{"value":"5"}`))

	if resp.StatusCode != fiber.StatusUnauthorized {
		t.Errorf("status = %d, want %d", resp.StatusCode, fiber.StatusUnauthorized)
	}
}
