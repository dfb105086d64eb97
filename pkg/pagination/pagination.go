package pagination

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/tradeops/ledger/pkg/response"
)

const (
	DefaultPage  = 1
	DefaultLimit = 20
	MaxLimit     = 100
)

// Params is a clamped page window
type Params struct {
	Page   int
	Limit  int
	Offset int
}

// Parse reads ?page and ?limit; missing or malformed values fall back to the defaults
func Parse(c *gin.Context) Params {
	page, err := strconv.Atoi(c.Query("page"))
	if err != nil {
		page = DefaultPage
	}
	limit, err := strconv.Atoi(c.Query("limit"))
	if err != nil {
		limit = DefaultLimit
	}
	return New(page, limit)
}

func New(page, limit int) Params {
	if page < 1 {
		page = DefaultPage
	}
	switch {
	case limit < 1:
		limit = DefaultLimit
	case limit > MaxLimit:
		limit = MaxLimit
	}
	return Params{Page: page, Limit: limit, Offset: (page - 1) * limit}
}

// Result wraps one page of items in the listing envelope
func (p Params) Result(items interface{}, total int64) response.Page {
	pages := int((total + int64(p.Limit) - 1) / int64(p.Limit))
	return response.Page{Items: items, Total: total, Page: p.Page, Limit: p.Limit, Pages: pages}
}
