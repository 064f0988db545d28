package notion

import (
	"context"

	"github.com/jomei/notionapi"
	"github.com/rotisserie/eris"
)

// QueryAll fetches all pages from a database, following pagination cursors.
// The next page is prefetched while the current one is appended.
func QueryAll(ctx context.Context, c Client, dbID string, filter *notionapi.DatabaseQueryRequest) ([]notionapi.Page, error) {
	newReq := func(cursor notionapi.Cursor) *notionapi.DatabaseQueryRequest {
		req := &notionapi.DatabaseQueryRequest{StartCursor: cursor}
		if filter != nil {
			req.Filter = filter.Filter
			req.Sorts = filter.Sorts
			req.PageSize = filter.PageSize
		}
		return req
	}

	type result struct {
		resp *notionapi.DatabaseQueryResponse
		err  error
	}

	if err := ctx.Err(); err != nil {
		return nil, eris.Wrap(err, "notion: query all")
	}

	var all []notionapi.Page
	resp, err := c.QueryDatabase(ctx, dbID, newReq(""))
	for {
		if err != nil {
			return nil, eris.Wrap(err, "notion: query all page")
		}
		if !resp.HasMore {
			all = append(all, resp.Results...)
			return all, nil
		}

		next := make(chan result, 1)
		go func(cursor notionapi.Cursor) {
			r, e := c.QueryDatabase(ctx, dbID, newReq(cursor))
			next <- result{resp: r, err: e}
		}(resp.NextCursor)

		all = append(all, resp.Results...)
		r := <-next
		resp, err = r.resp, r.err
	}
}

// QueryByStatus fetches all pages whose Status property equals status.
func QueryByStatus(ctx context.Context, c Client, dbID, status string) ([]notionapi.Page, error) {
	filter := &notionapi.DatabaseQueryRequest{
		Filter: notionapi.PropertyFilter{
			Property: "Status",
			Status: &notionapi.StatusFilterCondition{
				Equals: status,
			},
		},
	}
	pages, err := QueryAll(ctx, c, dbID, filter)
	if err != nil {
		return nil, eris.Wrapf(err, "notion: query status %q", status)
	}
	return pages, nil
}
