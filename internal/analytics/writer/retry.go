package writer

import (
	"context"
	"errors"
	"net/http"
	"time"

	cbigquery "cloud.google.com/go/bigquery"
	"google.golang.org/api/googleapi"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Backoff doubles the wait between attempts from Initial up to Max.
type Backoff struct {
	Attempts int
	Initial  time.Duration
	Max      time.Duration
}

func (b Backoff) withDefaults() Backoff {
	if b.Attempts <= 0 {
		b.Attempts = 3
	}
	if b.Initial <= 0 {
		b.Initial = 250 * time.Millisecond
	}
	if b.Max <= 0 {
		b.Max = 2 * time.Second
	}
	b.Max = max(b.Max, b.Initial)
	return b
}

func (b Backoff) retry(ctx context.Context, op func(context.Context) error) error {
	wait := b.Initial
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := op(ctx)
		if err == nil || attempt >= b.Attempts || !transient(err) {
			return err
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		wait = min(wait*2, b.Max)
	}
}

// transient reports whether err is worth retrying. Aggregated insert errors
// count only when every member does.
func transient(err error) bool {
	var (
		multi   cbigquery.MultiError
		putMany cbigquery.PutMultiError
		rowErr  *cbigquery.RowInsertionError
		apiErr  *googleapi.Error
		grpcErr interface{ GRPCStatus() *status.Status }
	)
	switch {
	case err == nil:
		return false
	case errors.As(err, &multi):
		return allTransient(multi)
	case errors.As(err, &putMany):
		members := make([]error, len(putMany))
		for i := range putMany {
			members[i] = putMany[i].Errors
		}
		return allTransient(members)
	case errors.As(err, &rowErr):
		return allTransient(rowErr.Errors)
	case errors.As(err, &apiErr):
		switch apiErr.Code {
		case http.StatusRequestTimeout, http.StatusTooManyRequests, http.StatusInternalServerError,
			http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			return true
		}
		return false
	case errors.As(err, &grpcErr):
		switch grpcErr.GRPCStatus().Code() {
		case codes.Aborted, codes.DeadlineExceeded, codes.Internal, codes.ResourceExhausted, codes.Unavailable:
			return true
		}
	}
	return false
}

func allTransient(errs []error) bool {
	if len(errs) == 0 {
		return false
	}
	for _, err := range errs {
		if !transient(err) {
			return false
		}
	}
	return true
}
