package gateway

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	"github.com/accountable/accountable-backend/internal/realtime"
)

const maxEventSize = 64 << 10

type changesClient struct{ c *Client }

// Subscribe streams row changes for the given tables, or every table when none
// are named.
func (ch changesClient) Subscribe(ctx context.Context, tables ...string) (<-chan realtime.Change, error) {
	c := ch.c
	req := request{method: http.MethodGet, path: "/api/v1/realtime"}
	if len(tables) > 0 {
		req.query = url.Values{"tables": {strings.Join(tables, ",")}}
	}

	stream := *c.httpClient
	stream.Timeout = 0

	token := c.accessToken()
	if token == "" {
		return nil, &Failure{Kind: KindAuth, Message: "sign in to receive changes"}
	}
	resp, err := c.send(ctx, &stream, req, nil, token, "")
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusUnauthorized {
		drain(resp)
		refreshed, err := c.refresh(ctx, token)
		if err != nil {
			return nil, err
		}
		if resp, err = c.send(ctx, &stream, req, nil, refreshed.AccessToken, ""); err != nil {
			return nil, err
		}
	}
	if resp.StatusCode != http.StatusOK {
		defer drain(resp)
		if err := decodeResponse(resp, nil); err != nil {
			return nil, err
		}
		return nil, &Failure{Kind: KindUnexpected, Message: "unexpected stream status", Status: resp.StatusCode}
	}

	out := make(chan realtime.Change)
	go func() {
		defer close(out)
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 4096), maxEventSize)
		var data strings.Builder
		for scanner.Scan() {
			line := scanner.Text()
			switch {
			case line == "":
				if data.Len() == 0 {
					continue
				}
				var change realtime.Change
				err := json.Unmarshal([]byte(data.String()), &change)
				data.Reset()
				if err != nil {
					c.logg.Warn(ctx, "gateway: dropping malformed change event: "+err.Error())
					continue
				}
				select {
				case out <- change:
				case <-ctx.Done():
					return
				}
			case strings.HasPrefix(line, ":"):
			case strings.HasPrefix(line, "data:"):
				if data.Len() > 0 {
					data.WriteByte('\n')
				}
				data.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
			}
		}
	}()
	return out, nil
}
