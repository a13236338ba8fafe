package controller

import (
	"chat-service/apperr"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
)

var validate = validator.New()

func httpStatus(code apperr.Code) int {
	switch code {
	case apperr.CodeNotAuthorized:
		return fiber.StatusUnauthorized
	case apperr.CodeNotFound:
		return fiber.StatusNotFound
	case apperr.CodeNotAuthorizedForEntity:
		return fiber.StatusForbidden
	case apperr.CodeConflict:
		return fiber.StatusConflict
	case apperr.CodeInvalid:
		return fiber.StatusBadRequest
	case apperr.CodeTransient:
		return fiber.StatusServiceUnavailable
	default:
		return fiber.StatusInternalServerError
	}
}

func success(c *fiber.Ctx, data any) error {
	return c.JSON(fiber.Map{
		"status":  "success",
		"message": nil,
		"data":    data,
	})
}

func failure(c *fiber.Ctx, status int, message string) error {
	return c.Status(status).JSON(fiber.Map{
		"status":  "error",
		"message": message,
		"data":    nil,
	})
}

func fail(c *fiber.Ctx, err error) error {
	return failure(c, httpStatus(apperr.CodeOf(err)), apperr.Message(err))
}

var errInput = apperr.Invalid("Review your input")

// parse decodes the body into input and validates its struct tags.
func parse(c *fiber.Ctx, input any) error {
	if err := c.BodyParser(input); err != nil {
		return errInput
	}
	if err := validate.Struct(input); err != nil {
		return errInput
	}
	return nil
}
