package controller

import (
	"net/http/httptest"
	"strings"
	"testing"

	"chat-service/apperr"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPStatus(t *testing.T) {
	cases := map[apperr.Code]int{
		apperr.CodeNotAuthorized:          fiber.StatusUnauthorized,
		apperr.CodeNotFound:               fiber.StatusNotFound,
		apperr.CodeNotAuthorizedForEntity: fiber.StatusForbidden,
		apperr.CodeConflict:               fiber.StatusConflict,
		apperr.CodeInvalid:                fiber.StatusBadRequest,
		apperr.CodeTransient:              fiber.StatusServiceUnavailable,
		apperr.CodeInternal:               fiber.StatusInternalServerError,
		apperr.CodeUnknown:                fiber.StatusInternalServerError,
	}
	for code, status := range cases {
		assert.Equal(t, status, httpStatus(code), code)
	}
}

func TestParseValidates(t *testing.T) {
	app := fiber.New()
	app.Post("/", func(c *fiber.Ctx) error {
		input := new(SendRequestInput)
		if err := parse(c, input); err != nil {
			return fail(c, err)
		}
		return success(c, input.UserID)
	})

	for body, status := range map[string]int{
		`{"userId":"u2"}`: fiber.StatusOK,
		`{"userId":""}`:   fiber.StatusBadRequest,
		`{`:               fiber.StatusBadRequest,
	} {
		req := httptest.NewRequest("POST", "/", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		resp, err := app.Test(req)
		require.NoError(t, err)
		assert.Equal(t, status, resp.StatusCode, body)
	}
}

func TestFailHidesCause(t *testing.T) {
	app := fiber.New()
	app.Get("/", func(c *fiber.Ctx) error {
		return fail(c, apperr.Transient(assert.AnError))
	})

	resp, err := app.Test(httptest.NewRequest("GET", "/", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusServiceUnavailable, resp.StatusCode)

	body := make([]byte, 512)
	n, _ := resp.Body.Read(body)
	assert.NotContains(t, string(body[:n]), assert.AnError.Error())
	assert.Contains(t, string(body[:n]), "try again")
}
