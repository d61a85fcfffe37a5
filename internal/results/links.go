package results

import (
	"net/url"
	"strconv"
	"strings"
)

// pagingParams are replaced when a link is rebuilt; KVP names are case
// insensitive.
var pagingParams = []string{"STARTINDEX", "COUNT", "MAXFEATURES"}

// PageURL returns requestURL with the paging parameters set to start and count.
func PageURL(requestURL *url.URL, start, count int) string {
	u := *requestURL
	params := url.Values{}
	for k, vs := range requestURL.Query() {
		if isPagingParam(k) {
			continue
		}
		params[k] = vs
	}
	params.Set("STARTINDEX", strconv.Itoa(start))
	if count >= 0 {
		params.Set("COUNT", strconv.Itoa(count))
	}
	u.RawQuery = params.Encode()
	return u.String()
}

func isPagingParam(k string) bool {
	for _, p := range pagingParams {
		if strings.EqualFold(k, p) {
			return true
		}
	}
	return false
}

// Links are the neighbouring page URLs, empty when there is no such page.
type Links struct {
	Previous string
	Next     string
}

// PageLinks computes the links of c; hasNext is the result of HasNext.
func (c *Collection) PageLinks(requestURL *url.URL, hasNext bool) Links {
	var l Links
	if requestURL == nil || c.count < 0 {
		return l
	}
	if c.HasPrevious() {
		prev := c.start - c.count
		if prev < 0 {
			prev = 0
		}
		l.Previous = PageURL(requestURL, prev, c.count)
	}
	if hasNext {
		l.Next = PageURL(requestURL, c.start+c.count, c.count)
	}
	return l
}
