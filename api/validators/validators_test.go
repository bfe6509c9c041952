package validators

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/angelmondragon/packfinderz-stock/pkg/errors"
)

type lineRequest struct {
	ProductID string `json:"product_id" validate:"required,uuid"`
	Quantity  int    `json:"quantity" validate:"required,min=1"`
}

type orderRequest struct {
	Items []lineRequest `json:"items" validate:"required,min=1,max=2,dive"`
	Note  string        `json:"note,omitempty" validate:"omitempty,max=5"`
}

func post(body string) *http.Request {
	return httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
}

func decodeFailure(t *testing.T, body string) *pkgerrors.Error {
	t.Helper()
	var dest orderRequest
	err := DecodeJSONBody(post(body), &dest)
	require.Error(t, err)
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeValidation, typed.Code())
	return typed
}

func TestDecodeJSONBodyAcceptsValidPayload(t *testing.T) {
	var dest orderRequest
	err := DecodeJSONBody(post(`{"items":[{"product_id":"0b6e2c2e-8b5e-4f1f-9a53-2f5e8c9d1a00","quantity":2}]}`), &dest)
	require.NoError(t, err)
	require.Len(t, dest.Items, 1)
	assert.Equal(t, 2, dest.Items[0].Quantity)
}

func TestDecodeJSONBodyRejections(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		message string
	}{
		{"empty", ``, "request body is empty"},
		{"syntax", `{"items":`, "invalid request body"},
		{"unknown field", `{"items":[],"extra":1}`, "invalid request body"},
		{"wrong type", `{"items":"nope"}`, "invalid request body"},
		{"trailing document", `{"items":[{"product_id":"0b6e2c2e-8b5e-4f1f-9a53-2f5e8c9d1a00","quantity":1}]} {}`, "single JSON document"},
		{"validation", `{"items":[]}`, "validation failed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			typed := decodeFailure(t, tt.body)
			assert.Contains(t, typed.Error(), tt.message)
		})
	}
}

func TestValidationDetailsUseJSONPaths(t *testing.T) {
	typed := decodeFailure(t, `{"items":[{"product_id":"not-a-uuid","quantity":0}],"note":"too long"}`)
	details, ok := typed.Details().(map[string]string)
	require.True(t, ok, "details %T", typed.Details())
	assert.Equal(t, "must be a valid UUID", details["items[0].product_id"])
	assert.Equal(t, "is required", details["items[0].quantity"])
	assert.Equal(t, "must be at most 5", details["note"])
}

func TestDecodeJSONBodyRejectsOversizedBody(t *testing.T) {
	big := `{"note":"` + strings.Repeat("x", MaxBodyBytes) + `"}`
	typed := decodeFailure(t, big)
	assert.Contains(t, typed.Error(), "too large")
}

func TestSanitizeString(t *testing.T) {
	assert.Equal(t, "damaged", SanitizeString("  damaged \n", 0))
	assert.Equal(t, "abc", SanitizeString("a\x00b\x07c", 10))
	assert.Equal(t, "héllo", SanitizeString("héllo wörld", 5))
	assert.Equal(t, "ab", SanitizeString("ab  cd", 3))
}

func TestParseQueryInt(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/?limit=25&bad=x&big=900", nil)

	v, err := ParseQueryInt(req, "limit", 10, 1, 100)
	require.NoError(t, err)
	assert.Equal(t, 25, v)

	v, err = ParseQueryInt(req, "missing", 10, 1, 100)
	require.NoError(t, err)
	assert.Equal(t, 10, v)

	_, err = ParseQueryInt(req, "bad", 10, 1, 100)
	assert.Error(t, err)
	_, err = ParseQueryInt(req, "big", 10, 1, 100)
	assert.Error(t, err)
}

func TestParseQueryUUIDAndOffset(t *testing.T) {
	id := uuid.New()
	req := httptest.NewRequest(http.MethodGet, "/?warehouse_id="+id.String()+"&nil_id="+uuid.Nil.String()+"&after=42&neg=-1&junk=abc", nil)

	got, err := ParseQueryUUID(req, "warehouse_id")
	require.NoError(t, err)
	assert.Equal(t, id, *got)

	got, err = ParseQueryUUID(req, "missing")
	require.NoError(t, err)
	assert.Nil(t, got)

	for _, key := range []string{"nil_id", "junk"} {
		_, err = ParseQueryUUID(req, key)
		assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation), key)
	}

	after, err := ParseQueryOffset(req, "after")
	require.NoError(t, err)
	assert.EqualValues(t, 42, after)
	after, err = ParseQueryOffset(req, "missing")
	require.NoError(t, err)
	assert.Zero(t, after)
	_, err = ParseQueryOffset(req, "neg")
	assert.Error(t, err)
	_, err = ParseQueryOffset(req, "junk")
	assert.Error(t, err)
}
