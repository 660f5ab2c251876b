package validation

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
)

func TestDateParam(t *testing.T) {
	app := fiber.New()
	app.Get("/runs/:date", DateParam("date"), func(c *fiber.Ctx) error {
		return c.SendString(c.Params("date"))
	})

	tests := []struct {
		path string
		want int
	}{
		{"/runs/2025-03-01", fiber.StatusOK},
		{"/runs/2025-13-01", fiber.StatusBadRequest},
		{"/runs/yesterday", fiber.StatusBadRequest},
	}

	for _, tt := range tests {
		resp, err := app.Test(httptest.NewRequest("GET", tt.path, nil))
		if err != nil {
			t.Fatal(err)
		}
		if resp.StatusCode != tt.want {
			t.Errorf("%s: status = %d, want %d", tt.path, resp.StatusCode, tt.want)
		}
	}
}

func TestContentType(t *testing.T) {
	app := fiber.New()
	app.Use(Middleware(Config{}))
	app.Post("/runs", func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusAccepted) })

	tests := []struct {
		name        string
		contentType string
		body        string
		want        int
	}{
		{"no body", "", "", fiber.StatusAccepted},
		{"json", "application/json; charset=utf-8", `{}`, fiber.StatusAccepted},
		{"xml", "application/xml", "<a/>", fiber.StatusUnsupportedMediaType},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("POST", "/runs", strings.NewReader(tt.body))
			if tt.contentType != "" {
				req.Header.Set("Content-Type", tt.contentType)
			}
			resp, err := app.Test(req)
			if err != nil {
				t.Fatal(err)
			}
			if resp.StatusCode != tt.want {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tt.want)
			}
		})
	}
}
