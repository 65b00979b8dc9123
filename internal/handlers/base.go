package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/mike-walpole/d2g/pkg/models"
)

// Body is a success payload. Every success response carries "success": true.
type Body map[string]any

// SuccessResponse returns a 200 OK with data
func SuccessResponse(c echo.Context, data Body) error {
	return respond(c, http.StatusOK, data)
}

// CreatedResponse returns a 201 Created with data
func CreatedResponse(c echo.Context, data Body) error {
	return respond(c, http.StatusCreated, data)
}

func respond(c echo.Context, status int, data Body) error {
	body := Body{"success": true}
	for k, v := range data {
		body[k] = v
	}
	return c.JSON(status, body)
}

// BadRequest returns a 400 Bad Request error
func BadRequest(message string) error {
	return httperror.NewHTTPError(http.StatusBadRequest, message)
}

// QueryInt parses an optional integer query parameter
func QueryInt(c echo.Context, name string, def int) (int, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, httperror.NewHTTPErrorf(http.StatusBadRequest, "invalid %s: must be an integer", name)
	}
	return n, nil
}

// ParseSubmissionKey reads a submission id and its RFC 3339 timestamp
func ParseSubmissionKey(id string, timestamp string) (models.SubmissionKey, error) {
	if id == "" || timestamp == "" {
		return models.SubmissionKey{}, BadRequest("Missing id or timestamp parameter")
	}

	parsedID, err := uuid.Parse(id)
	if err != nil {
		return models.SubmissionKey{}, BadRequest("invalid id: must be a valid UUID")
	}

	parsedTime, err := time.Parse(time.RFC3339Nano, timestamp)
	if err != nil {
		return models.SubmissionKey{}, BadRequest("invalid timestamp: must be RFC 3339")
	}

	return models.SubmissionKey{ID: parsedID, Timestamp: parsedTime.UTC()}, nil
}

// ParseLastKey decodes the JSON cursor returned by a previous page
func ParseLastKey(raw string) (*models.SubmissionKey, error) {
	if raw == "" {
		return nil, nil
	}

	var key models.SubmissionKey
	if err := json.Unmarshal([]byte(raw), &key); err != nil || key.ID == uuid.Nil || key.Timestamp.IsZero() {
		return nil, BadRequest("invalid lastKey")
	}
	key.Timestamp = key.Timestamp.UTC()
	return &key, nil
}
