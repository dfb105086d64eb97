package pagination

import (
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func TestParse(t *testing.T) {
	gin.SetMode(gin.TestMode)

	tests := []struct {
		query string
		want  Params
	}{
		{"", Params{Page: 1, Limit: 20, Offset: 0}},
		{"?page=3&limit=10", Params{Page: 3, Limit: 10, Offset: 20}},
		{"?page=0&limit=0", Params{Page: 1, Limit: 20, Offset: 0}},
		{"?page=abc&limit=500", Params{Page: 1, Limit: 100, Offset: 0}},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			c, _ := gin.CreateTestContext(httptest.NewRecorder())
			c.Request = httptest.NewRequest("GET", "/items"+tt.query, nil)
			assert.Equal(t, tt.want, Parse(c))
		})
	}
}

func TestParams_Result(t *testing.T) {
	page := New(2, 10).Result([]string{"a"}, 21)
	assert.Equal(t, 3, page.Pages)
	assert.Equal(t, int64(21), page.Total)
	assert.Equal(t, 2, page.Page)

	assert.Zero(t, New(1, 10).Result(nil, 0).Pages)
}
