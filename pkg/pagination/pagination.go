package pagination

import (
	"fmt"
	"strconv"

	"github.com/gin-gonic/gin"
)

const (
	DefaultPage = 1
	// PageSize is fixed for request listings; clients may lower it but the
	// cap keeps result sets bounded.
	DefaultPageSize = 10
	MaxPageSize     = 100
	MinPageSize     = 1
)

// Params holds validated pagination parameters
type Params struct {
	Page     int
	PageSize int
	Offset   int
}

// Parse extracts and validates page/page_size from query parameters
func Parse(c *gin.Context) Params {
	page, _ := strconv.Atoi(c.DefaultQuery("page", strconv.Itoa(DefaultPage)))
	size, _ := strconv.Atoi(c.DefaultQuery("page_size", strconv.Itoa(DefaultPageSize)))

	if page < 1 {
		page = DefaultPage
	}
	if size < MinPageSize {
		size = DefaultPageSize
	}
	if size > MaxPageSize {
		size = MaxPageSize
	}

	return Params{
		Page:     page,
		PageSize: size,
		Offset:   (page - 1) * size,
	}
}

// Page is the paginated list envelope: total count plus absolute links to the
// neighbouring pages (null when out of range)
type Page struct {
	Count    int64       `json:"count"`
	Next     *string     `json:"next"`
	Previous *string     `json:"previous"`
	Results  interface{} `json:"results"`
}

// NewPage assembles the page envelope. basePath is the request path without
// the page parameter; existing filters are preserved in the links.
func NewPage(c *gin.Context, p Params, count int64, results interface{}) Page {
	page := Page{Count: count, Results: results}

	totalPages := (count + int64(p.PageSize) - 1) / int64(p.PageSize)
	if int64(p.Page) < totalPages {
		next := pageURL(c, p.Page+1)
		page.Next = &next
	}
	if p.Page > 1 {
		prev := pageURL(c, p.Page-1)
		page.Previous = &prev
	}

	return page
}

func pageURL(c *gin.Context, page int) string {
	q := c.Request.URL.Query()
	q.Set("page", strconv.Itoa(page))
	return fmt.Sprintf("%s?%s", c.Request.URL.Path, q.Encode())
}
