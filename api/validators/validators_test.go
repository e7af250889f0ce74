package validators

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/accountable/accountable-backend/pkg/enums"
	pkgerrors "github.com/accountable/accountable-backend/pkg/errors"
)

type agreementBody struct {
	Frequency string   `json:"frequency" validate:"required,max=20"`
	Days      []string `json:"days"`
}

type goalBody struct {
	Title     string        `json:"title" validate:"required,max=200"`
	Notes     *string       `json:"notes,omitempty" validate:"omitempty,max=10"`
	Secret    string        `json:"secret" sanitize:"-"`
	TimeZone  string        `json:"time_zone" validate:"omitempty,timezone"`
	Agreement agreementBody `json:"agreement"`
}

func jsonRequest(body string) *http.Request {
	return httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
}

func fieldsOf(t *testing.T, err error) map[string]string {
	t.Helper()
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	require.Equal(t, pkgerrors.CodeValidation, typed.Code())
	details, ok := typed.Details().(map[string]any)
	require.True(t, ok)
	fields, _ := details["fields"].(map[string]string)
	return fields
}

func TestDecodeJSONBodyTrimsAndValidates(t *testing.T) {
	var body goalBody
	err := DecodeJSONBody(jsonRequest(`{"title":"  Run 5k ","secret":" pw ","agreement":{"frequency":" weekly","days":[" mon "]}}`), &body)
	require.NoError(t, err)
	assert.Equal(t, "Run 5k", body.Title)
	assert.Equal(t, " pw ", body.Secret)
	assert.Equal(t, "weekly", body.Agreement.Frequency)
	assert.Equal(t, []string{"mon"}, body.Agreement.Days)
}

func TestDecodeJSONBodyReportsFieldPaths(t *testing.T) {
	var body goalBody
	err := DecodeJSONBody(jsonRequest(`{"title":"   ","notes":"far too long here","time_zone":"Mars/Olympus","agreement":{}}`), &body)
	fields := fieldsOf(t, err)
	assert.Equal(t, "is required", fields["title"])
	assert.Equal(t, "must be at most 10 characters", fields["notes"])
	assert.Equal(t, "must be an IANA time zone", fields["time_zone"])
	assert.Equal(t, "is required", fields["agreement.frequency"])
}

func TestDecodeJSONBodyRejectsMalformedInput(t *testing.T) {
	cases := map[string]string{
		"empty":         "",
		"unknown field": `{"title":"x","agreement":{"frequency":"d"},"extra":1}`,
		"trailing data": `{"title":"x","agreement":{"frequency":"d"}}{"title":"y"}`,
		"not json":      `title=x`,
		"too large":     `{"title":"` + strings.Repeat("a", MaxBodyBytes) + `"}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			var body goalBody
			err := DecodeJSONBody(jsonRequest(raw), &body)
			assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation), "got %v", err)
		})
	}
}

func TestQueryHelpers(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/?limit=500&unreadOnly=yes&status=active&owner_id=nope", nil)

	_, err := ParseQueryInt(r, "limit", 20, 1, 100)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
	limit, err := ParseQueryInt(r, "page_size", 20, 1, 100)
	require.NoError(t, err)
	assert.Equal(t, 20, limit)

	_, err = ParseQueryBool(r, "unreadOnly")
	assert.Error(t, err)

	status, err := ParseQueryEnum(r, "status", enums.ParsePartnershipStatus)
	require.NoError(t, err)
	require.NotNil(t, status)
	assert.Equal(t, enums.PartnershipStatusActive, *status)
	missing, err := ParseQueryEnum(r, "kind", enums.ParsePartnershipStatus)
	require.NoError(t, err)
	assert.Nil(t, missing)

	_, err = ParseQueryUUID(r, "owner_id", false)
	assert.Error(t, err)
	id, err := ParseQueryUUID(r, "partnership_id", false)
	require.NoError(t, err)
	assert.Nil(t, id)
	_, err = ParseQueryUUID(r, "partnership_id", true)
	assert.Error(t, err)
}
